package stt

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

func TestGetAudioEncoding(t *testing.T) {
	encoding, err := getAudioEncoding("LINEAR16")
	if err != nil {
		t.Fatalf("LINEAR16: %v", err)
	}
	if encoding != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("LINEAR16 mapped to %v", encoding)
	}

	if _, err := getAudioEncoding("MP3"); err == nil {
		t.Error("MP3 should be rejected")
	}
}
