package memutils

import (
	"io"
	"math"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckedMultiply returns count*size, or ErrInvalidSize if either is negative or the product
// does not fit in an int
func CheckedMultiply(count, size int) (int, error) {
	if count < 0 || size < 0 {
		return 0, cerrors.Wrapf(ErrInvalidSize, "%d elements of %d bytes", count, size)
	}
	if size > 0 && count > math.MaxInt/size {
		return 0, cerrors.Wrapf(ErrInvalidSize, "%d elements of %d bytes overflows", count, size)
	}
	return count * size, nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// DivideRoundUp returns value/divisor, rounded toward positive infinity
func DivideRoundUp(value, divisor int) int {
	return (value + divisor - 1) / divisor
}

// LoggerOrDiscard returns logger, or a logger that drops every record if logger is nil
func LoggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
