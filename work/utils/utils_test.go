package utils

import "testing"

func TestResolveReference(t *testing.T) {
	manifest := "https://cdn.example.com/hls/movie/master.m3u8"

	cases := []struct {
		ref  string
		want string
	}{
		{"https://other.example.net/seg1.ts", "https://other.example.net/seg1.ts"},
		{"/keys/k1.key", "https://cdn.example.com/keys/k1.key"},
		{"seg1.ts", "https://cdn.example.com/hls/movie/seg1.ts"},
		{"variant/720p.m3u8", "https://cdn.example.com/hls/movie/variant/720p.m3u8"},
	}

	for _, c := range cases {
		if got := ResolveReference(manifest, c.ref); got != c.want {
			t.Errorf("ResolveReference(%q) = %q, want %q", c.ref, got, c.want)
		}
	}
}

func TestIsIPLiteralHost(t *testing.T) {
	if !IsIPLiteralHost("93.184.216.34") {
		t.Error("expected IPv4 literal to be detected")
	}
	for _, host := range []string{"cdn.example.com", "1.2.3", "a.b.c.d", "1.2.3.4567"} {
		if IsIPLiteralHost(host) {
			t.Errorf("host %q wrongly detected as IP literal", host)
		}
	}
}

func TestObfuscateURL(t *testing.T) {
	got := ObfuscateURL("https://cdn.example.com/secret/path.m3u8?token=abc")
	want := "https://cdn.example.com/***?***"
	if got != want {
		t.Errorf("ObfuscateURL = %q, want %q", got, want)
	}
}
