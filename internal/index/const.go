package index

import (
	"fmt"
	"regexp"
	"strings"

	pkgerrors "docindex/pkg/errors"
)

const (
	L2Space  SpaceType = "L2"
	IPSpace  SpaceType = "IP"
	CosSpace SpaceType = "COSINE"
)

const (
	FLATIndex    IndexType = "flat"
	IVFFLATIndex IndexType = "ivf_flat"
	BM25Index    IndexType = "bm25"
)

// IVF specific constants
const (
	DEFAULT_MAX_KMEANS_ITER = 40
	DEFAULT_NLIST           = 100
	DEFAULT_NPROBE          = 10
)

// BM25 specific constants
const (
	DEFAULT_K1      = 1.2
	DEFAULT_B       = 0.75
	DEFAULT_EPSILON = 0.25
)

// Request bounds
const (
	MAX_K          = 100
	MAX_LIST_LIMIT = 1000
)

// sentinel position for results the ANN structure could not fill
const notFound int64 = -1

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]{0,127}$`)

// ValidateName reports whether name can be used as an index name and a file
// name under the data directory.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid index name %q", pkgerrors.ErrBadParameter, name)
	}
	return nil
}

// ParseIndexType accepts the canonical kind names and a few aliases.
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat":
		return FLATIndex, nil
	case "ivf_flat", "ivf-flat", "ivfflat", "ivf":
		return IVFFLATIndex, nil
	case "bm25":
		return BM25Index, nil
	}
	return "", fmt.Errorf("%w: unknown index type %q", pkgerrors.ErrBadParameter, s)
}

// ParseSpaceType accepts L2, IP and COSINE in any case.
func ParseSpaceType(s string) (SpaceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L2":
		return L2Space, nil
	case "IP", "INNER_PRODUCT":
		return IPSpace, nil
	case "COSINE", "COS":
		return CosSpace, nil
	}
	return "", fmt.Errorf("%w: unknown distance metric %q", pkgerrors.ErrBadParameter, s)
}

func (t IndexType) dense() bool {
	return t == FLATIndex || t == IVFFLATIndex
}
