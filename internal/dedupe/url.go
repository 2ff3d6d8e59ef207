package dedupe

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform labels shown to reviewers.
const (
	PlatformDouyin = "抖音"
	PlatformXHS    = "小红书"
)

var (
	douyinPathRe = regexp.MustCompile(`^/(?:share/)?video/(\d+)`)
	xhsPathRe    = regexp.MustCompile(`^/(?:explore|discovery/item)/([0-9a-zA-Z]+)`)

	// Query keys that survive generic canonicalization, emitted in this order.
	genericKeepKeys = []string{"id", "video_id", "note_id"}
)

// CanonicalURL reduces a raw URL to a stable identity key using the URL
// alone. See CanonicalKey for the label-aware form.
func CanonicalURL(raw string) string {
	return CanonicalKey(raw, "")
}

// CanonicalKey reduces a raw URL to a stable identity key.
//
// Platform-aware forms win: douyin video pages become "douyin:<id>",
// xiaohongshu notes become "xhs:<id>", so the same item shared through
// different share-link shapes collapses to one key. The platform is
// recognized by host suffix or, for redirector hosts that hide it, by the
// sourceLabel the collector attached. Anything else falls back to lowercased
// scheme://host/path plus a fixed allowlist of query keys.
//
// The function is idempotent: feeding its own output back returns the same
// string. Unparseable or empty input returns "".
func CanonicalKey(raw, sourceLabel string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	// Already-canonical platform keys are fixed points.
	if strings.HasPrefix(raw, "douyin:") || strings.HasPrefix(raw, "xhs:") {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	label := strings.TrimSpace(sourceLabel)
	switch {
	case strings.HasSuffix(host, "douyin.com") || strings.HasSuffix(host, "iesdouyin.com") || label == PlatformDouyin:
		if id := douyinItemID(u); id != "" {
			return "douyin:" + id
		}
	case strings.HasSuffix(host, "xiaohongshu.com") || strings.HasSuffix(host, "xhslink.com") || label == PlatformXHS:
		if id := xhsItemID(u); id != "" {
			return "xhs:" + id
		}
	}

	return genericCanonical(u)
}

func douyinItemID(u *url.URL) string {
	if m := douyinPathRe.FindStringSubmatch(u.EscapedPath()); m != nil {
		return m[1]
	}
	q := u.Query()
	for _, key := range []string{"video_id", "modal_id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

func xhsItemID(u *url.URL) string {
	if m := xhsPathRe.FindStringSubmatch(u.EscapedPath()); m != nil {
		return m[1]
	}
	if v := strings.TrimSpace(u.Query().Get("note_id")); v != "" {
		return v
	}
	return ""
}

func genericCanonical(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(u.Host)
	path := strings.ToLower(strings.TrimRight(u.EscapedPath(), "/"))

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(host)
	sb.WriteString(path)

	q := u.Query()
	sep := byte('?')
	for _, key := range genericKeepKeys {
		if v := q.Get(key); v != "" {
			sb.WriteByte(sep)
			sb.WriteString(key)
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
			sep = '&'
		}
	}
	return sb.String()
}

// PlatformLabel names the platform a canonical key belongs to, or "" for
// generic keys.
func PlatformLabel(canonical string) string {
	switch {
	case strings.HasPrefix(canonical, "douyin:"):
		return PlatformDouyin
	case strings.HasPrefix(canonical, "xhs:"):
		return PlatformXHS
	default:
		return ""
	}
}
