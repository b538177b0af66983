package code

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/hitoshi/iceblink/internal/model"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func sampleCodes() []*model.Code {
	return []*model.Code{
		{ID: "BBBB", OwnerID: "alice", Content: "secret-b", DisplayName: "Bank", WebsiteURL: strPtr("https://bank.example.com")},
		{ID: "AAAA", OwnerID: "alice", Content: "secret-a", DisplayName: "Mail"},
		{ID: "CCCC", OwnerID: "alice", Content: "secret-c", DisplayName: "Chat", IconURL: strPtr("https://chat.example.com/i.png")},
	}
}

func TestChecksum_EmptySet(t *testing.T) {
	sum := sha256.Sum256(nil)
	want := hex.EncodeToString(sum[:])

	if got := Checksum(nil); got != want {
		t.Errorf("Checksum(nil) = %s, want %s", got, want)
	}
	if got := Checksum([]*model.Code{}); got != want {
		t.Errorf("Checksum(empty) = %s, want %s", got, want)
	}
}

func TestChecksum_FormatAndStability(t *testing.T) {
	first := Checksum(sampleCodes())
	if !hex64.MatchString(first) {
		t.Fatalf("checksum %q is not 64 lowercase hex chars", first)
	}
	if second := Checksum(sampleCodes()); second != first {
		t.Errorf("checksum changed without data change: %s -> %s", first, second)
	}
}

func TestChecksum_IndependentOfOrder(t *testing.T) {
	codes := sampleCodes()
	reversed := []*model.Code{codes[2], codes[0], codes[1]}

	if Checksum(codes) != Checksum(reversed) {
		t.Error("checksum should not depend on input order")
	}
}

func TestChecksum_DoesNotReorderInput(t *testing.T) {
	codes := sampleCodes()
	Checksum(codes)
	if codes[0].ID != "BBBB" {
		t.Error("Checksum must not sort the caller's slice")
	}
}

func TestChecksum_ChangesOnAnyFieldEdit(t *testing.T) {
	base := Checksum(sampleCodes())

	mutations := map[string]func(c []*model.Code){
		"content":           func(c []*model.Code) { c[0].Content = "secret-b2" },
		"display name":      func(c []*model.Code) { c[1].DisplayName = "Mail2" },
		"icon set":          func(c []*model.Code) { c[1].IconURL = strPtr("https://x.example.com/i.png") },
		"icon cleared":      func(c []*model.Code) { c[2].IconURL = nil },
		"website set empty": func(c []*model.Code) { c[1].WebsiteURL = strPtr("") },
		"id":                func(c []*model.Code) { c[1].ID = "AAAB" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			codes := sampleCodes()
			mutate(codes)
			if Checksum(codes) == base {
				t.Errorf("checksum should change after %s edit", name)
			}
		})
	}
}

func TestChecksum_ChangesOnAddAndRemove(t *testing.T) {
	codes := sampleCodes()
	base := Checksum(codes)

	if Checksum(codes[:2]) == base {
		t.Error("checksum should change after removal")
	}
	added := append(sampleCodes(), &model.Code{ID: "DDDD", Content: "d", DisplayName: "d"})
	if Checksum(added) == base {
		t.Error("checksum should change after addition")
	}
}

// 長さ前置により、フィールド境界をずらした値が衝突しない。
func TestChecksum_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := []*model.Code{{ID: "AAAA", Content: "ab", DisplayName: "c"}}
	b := []*model.Code{{ID: "AAAA", Content: "a", DisplayName: "bc"}}

	if Checksum(a) == Checksum(b) {
		t.Error("shifting bytes between fields should change the checksum")
	}
}

func TestChecksum_NullDistinctFromEmpty(t *testing.T) {
	withNull := []*model.Code{{ID: "AAAA", Content: "x", DisplayName: "n"}}
	withEmpty := []*model.Code{{ID: "AAAA", Content: "x", DisplayName: "n", IconURL: strPtr("")}}

	if Checksum(withNull) == Checksum(withEmpty) {
		t.Error("null and empty string should hash differently")
	}
}
