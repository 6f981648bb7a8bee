package gdbrsp_test

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/Linaro/lite-cornea/internal/gdbrsp"
)

// Invariant 3 (encode/decode round trip; checksums round-trip).
func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := NewWithT(t)

	for _, payload := range [][]byte{
		[]byte(""),
		[]byte("OK"),
		[]byte("m1000,4"),
		[]byte("T05hwbreak:;"),
		[]byte("a#b$c}d*e"), // exercises every byte requiring escaping
	} {
		encoded := gdbrsp.EncodePacket(payload)
		r := bufio.NewReader(bytes.NewReader(encoded))
		decoded, interrupted, err := gdbrsp.ReadPacket(r)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(interrupted).To(BeFalse())
		g.Expect(decoded).To(Equal(payload))
	}
}

func TestEscapedBytesRoundTrip(t *testing.T) {
	g := NewWithT(t)

	payload := []byte{'#', '$', '}', '*', 'x'}
	encoded := gdbrsp.EncodePacket(payload)

	// Confirm the wire form actually escaped every special byte: the
	// encoded packet must contain four '}' escape markers, one per
	// special byte.
	g.Expect(bytes.Count(encoded, []byte{'}'})).To(Equal(4))

	r := bufio.NewReader(bytes.NewReader(encoded))
	decoded, _, err := gdbrsp.ReadPacket(r)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(decoded).To(Equal(payload))
}

// Invariant 3: run-length-encoded input decodes bit-for-bit identically
// to its expanded form. "*<n>" repeats the previous byte (n - 29) more
// times, per the RSP encoding of the repeat count as (count-3)+' '.
func TestRunLengthDecodeMatchesExpandedForm(t *testing.T) {
	g := NewWithT(t)

	// 'a' followed by "* " (0x20 -> repeat count 0x20-29=3) means three
	// more 'a's: expanded form is "aaaa".
	rle := []byte{'$', 'a', '*', ' ', '#'}
	checksum := gdbrsp.Checksum([]byte("aaaa"))
	rle = append(rle, []byte(hex.EncodeToString([]byte{checksum}))...)

	r := bufio.NewReader(bytes.NewReader(rle))
	decoded, _, err := gdbrsp.ReadPacket(r)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(decoded).To(Equal([]byte("aaaa")))
}

func TestBadChecksumRejected(t *testing.T) {
	g := NewWithT(t)

	r := bufio.NewReader(bytes.NewReader([]byte("$OK#00")))
	_, _, err := gdbrsp.ReadPacket(r)
	g.Expect(err).To(HaveOccurred())
}

func TestInterruptByteReportedBeforePacket(t *testing.T) {
	g := NewWithT(t)

	r := bufio.NewReader(bytes.NewReader([]byte{0x03}))
	_, interrupted, err := gdbrsp.ReadPacket(r)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(interrupted).To(BeTrue())
}
