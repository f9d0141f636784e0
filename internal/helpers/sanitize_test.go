package helpers

import "testing"

func TestCleanText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips highlight markup",
			in:   `<strong>MSFT</strong> beats <b>estimates</b>`,
			want: "MSFT beats estimates",
		},
		{
			name: "decodes entities",
			in:   "Revenue &amp; profit up 15&#37;",
			want: "Revenue & profit up 15%",
		},
		{
			name: "drops script content entirely",
			in:   `Cloud<script>alert(1)</script> growth`,
			want: "Cloud growth",
		},
		{
			name: "collapses whitespace",
			in:   "  spaced\n\nout\ttext ",
			want: "spaced out text",
		},
		{
			name: "empty input",
			in:   "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.in); got != tt.want {
				t.Fatalf("CleanText() got %q, want %q", got, tt.want)
			}
		})
	}
}
