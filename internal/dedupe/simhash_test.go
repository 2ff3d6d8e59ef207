package dedupe

import "testing"

func TestSimhash64Deterministic(t *testing.T) {
	t.Parallel()

	text := "市中心医院急诊科排队时间过长引发投诉"
	a := Simhash64(text)
	b := Simhash64(text)
	if a != b {
		t.Fatalf("same text produced different fingerprints: %x vs %x", a, b)
	}
	if a == 0 {
		t.Fatalf("non-empty text produced zero fingerprint")
	}
}

func TestSimhash64EmptyText(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   ", "！？。、—…"} {
		if got := Simhash64(text); got != 0 {
			t.Fatalf("Simhash64(%q) = %x, want 0", text, got)
		}
	}
}

func TestSimhash64SimilarTextsAreClose(t *testing.T) {
	t.Parallel()

	a := Simhash64("市中心医院急诊科排队时间过长引发患者投诉")
	b := Simhash64("市中心医院急诊科排队时间太长引发患者投诉")
	c := Simhash64("本地新开一家宠物咖啡馆生意火爆")

	near := HammingDistance(a, b)
	far := HammingDistance(a, c)
	if near >= far {
		t.Fatalf("similar pair distance %d should be below dissimilar pair distance %d", near, far)
	}
	if near > 10 {
		t.Fatalf("one-character edit moved distance to %d", near)
	}
}

func TestTokenizeMixedScript(t *testing.T) {
	t.Parallel()

	got := Tokenize("医院ICU收费 Issue-2024重复")
	want := []string{"医", "院", "icu", "收", "费", "issue", "2024", "重", "复"}
	if len(got) != len(want) {
		t.Fatalf("token count = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0xFFFFFFFFFFFFFFFF, 0, 64},
		{0b1010, 0b0101, 4},
	}
	for _, tc := range cases {
		if got := HammingDistance(tc.a, tc.b); got != tc.want {
			t.Fatalf("HammingDistance(%x, %x) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimhash64EmojiAndPunctuationVariants(t *testing.T) {
	t.Parallel()

	a := Simhash64("市中心医院急诊排队三小时太离谱了")
	b := Simhash64("市中心医院急诊排队三小时太离谱了😡！！")
	if d := HammingDistance(a, b); d > 4 {
		t.Fatalf("emoji and punctuation moved distance to %d", d)
	}
}

func TestSimhash64WeightCap(t *testing.T) {
	t.Parallel()

	// A token repeated far beyond the cap must not drown out the rest.
	a := Simhash64("投诉 投诉 投诉 投诉 投诉 投诉 投诉 投诉 医院 排队")
	b := Simhash64("投诉 投诉 投诉 投诉 投诉 医院 排队")
	if a != b {
		t.Fatalf("weights past the cap changed the fingerprint: %x vs %x", a, b)
	}
}
