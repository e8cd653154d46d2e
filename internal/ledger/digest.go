package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// DomainRecord separates record digests from any other use of SHA-256.
// The version suffix leaves room for a future layout change.
const DomainRecord = "ethbank/record/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// ChainDigest folds records, in order, into one hex digest. Each step hashes
// the previous digest with the record's fixed binary layout, so two ledgers
// share a digest only if they hold the same records in the same order.
// An empty ledger digests to the hash of nothing.
func ChainDigest(recs []TransferRecord) string {
	prev := hashWithDomain(DomainRecord, nil)
	for _, rec := range recs {
		prev = hashWithDomain(DomainRecord, appendRecord(prev, rec))
	}
	return hex.EncodeToString(prev)
}

// appendRecord appends rec's layout to buf:
// index(8) sender(20) receiver(20) amount(32) unix seconds(8) len(8) message.
func appendRecord(buf []byte, rec TransferRecord) []byte {
	buf = binary.BigEndian.AppendUint64(buf, rec.Index)
	buf = append(buf, rec.Sender[:]...)
	buf = append(buf, rec.Receiver[:]...)

	var amount [32]byte
	rec.Amount.BigInt().FillBytes(amount[:])
	buf = append(buf, amount[:]...)

	buf = binary.BigEndian.AppendUint64(buf, uint64(rec.Timestamp.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(rec.Message)))
	return append(buf, rec.Message...)
}
