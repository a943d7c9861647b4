package rdp

import (
	"fmt"
	"strings"

	"github.com/xuanvinh1997/open-term/internal/rdpwire"
)

// Quality selects a trade-off between visual fidelity and bandwidth.
type Quality int

const (
	QualityUltra Quality = iota
	QualityHigh
	QualityBalanced
	QualityPerformance
	QualityLowBandwidth
)

func (q Quality) String() string {
	switch q {
	case QualityUltra:
		return "ultra"
	case QualityHigh:
		return "high"
	case QualityBalanced:
		return "balanced"
	case QualityPerformance:
		return "performance"
	case QualityLowBandwidth:
		return "low_bandwidth"
	default:
		return "unknown"
	}
}

// ParseQuality maps a preset name to its Quality value. Names are
// case-insensitive; the empty string means balanced.
func ParseQuality(name string) (Quality, error) {
	switch strings.ToLower(name) {
	case "ultra":
		return QualityUltra, nil
	case "high":
		return QualityHigh, nil
	case "balanced", "":
		return QualityBalanced, nil
	case "performance":
		return QualityPerformance, nil
	case "low_bandwidth", "lowbandwidth", "low":
		return QualityLowBandwidth, nil
	default:
		return QualityBalanced, fmt.Errorf("rdp: unknown quality preset %q", name)
	}
}

// Settings are the wire-level parameters a preset expands to.
type Settings struct {
	Lossy      bool
	ColorDepth uint16
	PerfFlags  uint32
}

// Settings expands the preset. Ultra and High keep full fidelity,
// Balanced trims desktop effects, Performance and LowBandwidth trade
// color depth and effects for bandwidth.
func (q Quality) Settings() Settings {
	const reduceEffects = rdpwire.PerfDisableWallpaper | rdpwire.PerfDisableFullWindowDrag
	const minimalEffects = reduceEffects | rdpwire.PerfDisableMenuAnimations | rdpwire.PerfDisableTheming

	switch q {
	case QualityUltra, QualityHigh:
		return Settings{
			ColorDepth: 32,
			PerfFlags:  rdpwire.PerfEnableFontSmoothing | rdpwire.PerfEnableDesktopComposition,
		}
	case QualityPerformance:
		return Settings{
			Lossy:      true,
			ColorDepth: 16,
			PerfFlags:  minimalEffects | rdpwire.PerfEnableFontSmoothing,
		}
	case QualityLowBandwidth:
		return Settings{
			Lossy:      true,
			ColorDepth: 8,
			PerfFlags:  minimalEffects | rdpwire.PerfDisableCursorSettings,
		}
	default: // balanced
		return Settings{
			ColorDepth: 24,
			PerfFlags:  reduceEffects | rdpwire.PerfEnableFontSmoothing | rdpwire.PerfEnableDesktopComposition,
		}
	}
}
