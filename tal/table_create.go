package tal

import (
	"fmt"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tmal-go/tal/internal/reserve"
	"github.com/tmal-go/tal/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific table behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	createFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := createFlagsMapping[bit]
		if !ok {
			name = fmt.Sprintf("CreateFlags(%#x)", int32(bit))
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// CreateValidateEachCall runs a full consistency check of a heap's metadata after every call that
	// changes it, and fails the call if the check fails. This is slow: every check walks the full
	// slot array.
	CreateValidateEachCall CreateFlags = 1 << iota
	// CreateZeroOnAllocate clears the bytes of every block handed out by Allocate and Resize. Without
	// it, a block holds whatever was last written to those bytes.
	CreateZeroOnAllocate
)

func init() {
	CreateValidateEachCall.Register("CreateValidateEachCall")
	CreateZeroOnAllocate.Register("CreateZeroOnAllocate")
}

// MaxThreadCount is the largest number of heaps a table can be created with
const MaxThreadCount = math.MaxInt32

// CreateOptions contains optional settings when creating a table
type CreateOptions struct {
	// Flags indicates specific table behaviors to activate or deactivate
	Flags CreateFlags

	// MinimumUnit is the smallest addressable unit of every heap in the table: request sizes and
	// heap sizes are rounded up to a multiple of it. It must be a power of two. If it is left
	// at 0, memutils.DefaultMinimumUnit is used.
	MinimumUnit uint

	// Reserver supplies the host memory behind each heap buffer. If it is left nil, the platform
	// default from reserve.Default is used.
	Reserver reserve.Reserver
}

// InitTable creates a table with room for threadCount heaps. Each heap must then be initialized
// with InitHeap by the thread that owns it before that thread can allocate.
//
// logger - The logger used by the table and all of its heaps. If nil, slog.Default() is used
//
// threadCount - The number of heaps in the table. Thread ids run from 0 to threadCount-1
//
// options - Optional parameters: it is valid to leave all the fields blank
func InitTable(logger *slog.Logger, threadCount int, options CreateOptions) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if threadCount < 1 || threadCount > MaxThreadCount {
		return nil, errors.Wrapf(ErrAllocation, "cannot create a heap table for %d threads", threadCount)
	}

	unit := options.MinimumUnit
	if unit == 0 {
		unit = memutils.DefaultMinimumUnit
	}

	err := memutils.CheckPow2(unit, "MinimumUnit")
	if err != nil {
		return nil, err
	}

	reserver := options.Reserver
	if reserver == nil {
		reserver = reserve.Default()
	}

	logger.Debug("Table::InitTable",
		slog.Int("threads", threadCount),
		slog.Uint64("unit", uint64(unit)),
		slog.String("flags", options.Flags.String()),
	)

	return &Table{
		logger:      logger,
		createFlags: options.Flags,
		unit:        unit,
		reserver:    reserver,
		heaps:       make([]*Pool, threadCount),
	}, nil
}
