package subtitles

import (
	"strings"
	"testing"
)

func TestNormalizeSRT(t *testing.T) {
	srt := "1\n00:00:01,500 --> 00:00:04,200\nHello there.\n\n2\n00:00:05,000 --> 00:00:07,900\nGeneral Kenobi.\n"

	got := string(Normalize([]byte(srt)))

	if !strings.HasPrefix(got, "WEBVTT\n\n") {
		t.Error("converted output must start with the WEBVTT header")
	}
	if strings.Contains(got, "00:00:01,500") {
		t.Error("SRT comma timestamps must become periods")
	}
	if !strings.Contains(got, "00:00:01.500 --> 00:00:04.200") {
		t.Errorf("timestamp conversion wrong:\n%s", got)
	}
	if !strings.Contains(got, "General Kenobi.") {
		t.Error("cue text must survive")
	}
}

func TestNormalizeVTTPassthrough(t *testing.T) {
	vtt := "WEBVTT\n\n00:00:01.500 --> 00:00:04.200\nAlready fine.\n"
	if got := string(Normalize([]byte(vtt))); got != vtt {
		t.Errorf("VTT input must pass through unchanged, got:\n%s", got)
	}
}

func TestNormalizeLeavesCueTextCommasAlone(t *testing.T) {
	srt := "1\n00:00:01,000 --> 00:00:02,000\nWell, well, well.\n"
	got := string(Normalize([]byte(srt)))
	if !strings.Contains(got, "Well, well, well.") {
		t.Errorf("commas in cue text must not change:\n%s", got)
	}
}
