// Package detect holds the two static classifiers: one for files encrypted by
// moo and one for the moo binary itself.
package detect

// Reasons reported by EncryptionClassifier.
const (
	ReasonEmpty     = "empty file"
	ReasonPlainText = "plain text"
	ReasonEncrypted = "high probability of encryption"
	ReasonNoMatch   = "no match"
)

// Verdict is the outcome of classifying one file. Err is set when the file
// could not be read; Match is then always false and Reason carries the error
// text.
type Verdict struct {
	Match  bool
	Reason string
	Err    error
}

func failed(err error) Verdict {
	return Verdict{Reason: err.Error(), Err: err}
}

func isPrintable(b byte) bool {
	return b >= 0x20 && b < 0x7f
}
