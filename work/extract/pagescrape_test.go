package extract

import "testing"

func TestFindManifestURL(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "player config file assignment",
			page: `<script>var player = { file: "https://cdn.example/hls/master.m3u8?sig=abc" };</script>`,
			want: "https://cdn.example/hls/master.m3u8?sig=abc",
		},
		{
			name: "source assignment with equals",
			page: `<script>source = 'https://cdn.example/v/master.m3u8'</script>`,
			want: "https://cdn.example/v/master.m3u8",
		},
		{
			name: "bare URL in page text",
			page: `<script>loadPlayer(atob(x), https://cdn.example/raw/index.m3u8 )</script>`,
			want: "https://cdn.example/raw/index.m3u8",
		},
		{
			name: "assignment wins over bare URL",
			page: `https://decoy.example/first.m3u8 <script>src: "https://cdn.example/real.m3u8"</script>`,
			want: "https://cdn.example/real.m3u8",
		},
		{
			name: "nothing there",
			page: `<html><body>player loading...</body></html>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findManifestURL(tt.page); got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestFindIframeSrc(t *testing.T) {
	page := `<html><body><iframe src="//player.example/embed/42" allowfullscreen></iframe></body></html>`
	if got := findIframeSrc(page); got != "https://player.example/embed/42" {
		t.Errorf("protocol-relative src must be upgraded to https, got %q", got)
	}

	if got := findIframeSrc(`<html><body>no frames</body></html>`); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}
