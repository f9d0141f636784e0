package helpers

import "testing"

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "schemeless filing path defaults to https and cleans dot segments",
			in:   "www.sec.gov/cgi-bin/../Archives/edgar/data/789019/index.html",
			want: "https://www.sec.gov/Archives/edgar/data/789019/index.html",
		},
		{
			name: "lowercases host, drops default port and click ids",
			in:   "HTTPS://Finance.Example.COM:443/quote/MSFT?gclid=abc123",
			want: "https://finance.example.com/quote/MSFT",
		},
		{
			name: "sorts surviving query keys and keeps the trailing slash",
			in:   "https://ir.example.com/releases/?year=2025&quarter=Q4&msclkid=x",
			want: "https://ir.example.com/releases/?quarter=Q4&year=2025",
		},
		{
			name: "protocol-relative url",
			in:   "//markets.example.com/ohlcv/MSFT.csv?utm_campaign=digest",
			want: "https://markets.example.com/ohlcv/MSFT.csv",
		},
		{
			name: "collapses repeated slashes and strips the fragment",
			in:   "https://example.com//news///tech/?IGSHID=zz#latest",
			want: "https://example.com/news/tech/",
		},
		{
			name: "bare host gets the root path",
			in:   "http://example.com:80",
			want: "http://example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.in)
			if err != nil {
				t.Fatalf("CanonicalURL(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Two spellings of the same result page must canonicalize identically, which
// is what the page-fetch step relies on to spend only one unit per page.
func TestCanonicalURLDeduplicates(t *testing.T) {
	t.Parallel()
	a, err := CanonicalURL("https://Example.com/a?utm_source=rss&ref=1")
	if err != nil {
		t.Fatalf("CanonicalURL: %v", err)
	}
	b, err := CanonicalURL("example.com/a?ref=1")
	if err != nil {
		t.Fatalf("CanonicalURL: %v", err)
	}
	if a != b {
		t.Fatalf("canonical forms differ: %q vs %q", a, b)
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", ":///invalid"} {
		if _, err := CanonicalURL(in); err == nil {
			t.Fatalf("CanonicalURL(%q): expected error", in)
		}
	}
}
