package types

import (
	"fmt"
)

// Quality is an audio quality tier as understood by the HiFi API.
type Quality string

const (
	QualityLow      Quality = "LOW"
	QualityHigh     Quality = "HIGH"
	QualityLossless Quality = "LOSSLESS"
	QualityHiRes    Quality = "HI_RES_LOSSLESS"
)

func ParseQuality(s string) (Quality, error) {
	switch q := Quality(s); q {
	case QualityLow, QualityHigh, QualityLossless, QualityHiRes:
		return q, nil
	default:
		return "", fmt.Errorf("unsupported quality tier %q", s)
	}
}

func (q Quality) IsHiRes() bool {
	return q == QualityHiRes
}

// Downgrade returns the tier used when this one cannot be served. Only the
// hi-res tier downgrades; everything else stays put.
func (q Quality) Downgrade() Quality {
	if q.IsHiRes() {
		return QualityLossless
	}

	return q
}
