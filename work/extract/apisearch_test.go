package extract

import "testing"

func TestBestSearchLinkQualityOrder(t *testing.T) {
	body := []byte(`{"links":[
		{"url":"https://cdn.example/360.mp4","quality":"360"},
		{"url":"https://cdn.example/1080.mp4","quality":"1080P HD"},
		{"url":"https://cdn.example/720.mp4","quality":"720p"},
		{"url":"https://cdn.example/unknown.mp4","quality":""}
	]}`)

	link, err := bestSearchLink(body)
	if err != nil {
		t.Fatalf("bestSearchLink: %v", err)
	}
	if link != "https://cdn.example/1080.mp4" {
		t.Errorf("got %s, want the 1080p link", link)
	}
}

func TestBestSearchLinkFieldDrift(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "items under data, link under file",
			body: `{"data":[{"file":"https://cdn.example/a.m3u8","quality":"720"}]}`,
			want: "https://cdn.example/a.m3u8",
		},
		{
			name: "items under results, link under link",
			body: `{"results":[{"link":"https://cdn.example/b.mp4","label":"480p"}]}`,
			want: "https://cdn.example/b.mp4",
		},
		{
			name: "best item linkless, next one wins",
			body: `{"links":[{"quality":"1080"},{"url":"https://cdn.example/720.mp4","quality":"720"}]}`,
			want: "https://cdn.example/720.mp4",
		},
		{
			name: "empty response",
			body: `{"links":[]}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := bestSearchLink([]byte(tt.body))
			if err != nil {
				t.Fatalf("bestSearchLink: %v", err)
			}
			if link != tt.want {
				t.Errorf("got %q want %q", link, tt.want)
			}
		})
	}
}

func TestBestSearchLinkRejectsGarbage(t *testing.T) {
	if _, err := bestSearchLink([]byte("<html>not json</html>")); err == nil {
		t.Error("expected an error for non-JSON input")
	}
}
