package code

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"slices"
	"strings"

	"github.com/hitoshi/iceblink/internal/model"
)

// Checksum はコード集合のフィンガープリントを64文字の16進文字列で返す。
//
// コードはIDの昇順に並べてからハッシュするため、保存順や取得順に依存しない。
// 各フィールドは8バイトのビッグエンディアン長を前置して連結し、
// null許容フィールドは存在バイト（0: null, 1: 値あり）で空文字列と区別する。
// 空集合は空入力のSHA-256になる。
func Checksum(codes []*model.Code) string {
	sorted := slices.Clone(codes)
	slices.SortFunc(sorted, func(a, b *model.Code) int {
		return strings.Compare(a.ID, b.ID)
	})

	h := sha256.New()
	for _, c := range sorted {
		writeField(h, c.ID)
		writeField(h, c.Content)
		writeField(h, c.DisplayName)
		writeOptional(h, c.IconURL)
		writeOptional(h, c.WebsiteURL)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(s)))
	h.Write(length[:])
	h.Write([]byte(s))
}

func writeOptional(h hash.Hash, s *string) {
	if s == nil {
		h.Write([]byte{0})
		return
	}
	h.Write([]byte{1})
	writeField(h, *s)
}
