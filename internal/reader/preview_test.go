package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	input := "  第一段   内容 \n\n Second\tparagraph \r\n\r\n第三行 "
	got := CleanText(input)
	want := "第一段 内容\n\nSecond paragraph\n\n第三行"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestTruncateText(t *testing.T) {
	input := "abcdefghijklmnopqrstuvwxyz"

	got, truncated := TruncateText(input, 10)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if got != "abcdefghi…" {
		t.Fatalf("unexpected truncated text: %q", got)
	}

	full, wasTruncated := TruncateText("short", 10)
	if wasTruncated {
		t.Fatalf("expected truncated=false for short text")
	}
	if full != "short" {
		t.Fatalf("unexpected short text: %q", full)
	}
}

func TestFetchTextPlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("  患者投诉   急诊排队\n\n详情见正文  "))
	}))
	defer srv.Close()

	got, err := FetchText(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("FetchText: %v", err)
	}
	want := "患者投诉 急诊排队\n\n详情见正文"
	if got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestFetchTextRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := FetchText(context.Background(), srv.URL, "t"); err == nil {
		t.Fatalf("expected error for 404")
	}
}

func TestFetchTextRequiresURL(t *testing.T) {
	if _, err := FetchText(context.Background(), "  ", "t"); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
