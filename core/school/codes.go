package school

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core/docstore"
)

const (
	codeLength       = 6
	maxCodeAttempts  = 5
	maxBranchCodeSeq = 99 // branch codes carry a 2-digit sequence
)

// SuffixFunc picks the 2-digit suffix appended to a taken registration code.
var SuffixFunc = func() int { return 10 + rand.Intn(90) } // mockable

var publicIDPrefixes = map[PersonKind]string{
	KindGuardian: "GRD",
	KindTeacher:  "TCH",
	KindDriver:   "DRV",
}

// KindergartenCode derives a short code from a name: the first 6 latin letters and digits,
// uppercased. Names without any fall back to a base-36 hash of the name.
func KindergartenCode(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == codeLength {
				break
			}
		}
	}
	if b.Len() > 0 {
		return b.String()
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	code := strings.ToUpper(strconv.FormatUint(uint64(h.Sum32()), 36))
	if len(code) > codeLength {
		code = code[:codeLength]
	}
	return code
}

// RegistrationCode returns "{province}-{code}", or "" when either part is missing.
func RegistrationCode(provinceCode, name string) string {
	provinceCode = strings.ToUpper(strings.TrimSpace(provinceCode))
	if provinceCode == "" || strings.TrimSpace(name) == "" {
		return ""
	}
	return provinceCode + "-" + KindergartenCode(name)
}

// BranchCode returns "{parentCode}-{seq}" with seq zero-padded to 2 digits.
func BranchCode(parentCode string, seq int) string {
	return fmt.Sprintf("%s-%02d", parentCode, seq)
}

func (svc *Service) codeTaken(ctx context.Context, coll, field, code string) (bool, error) {
	snaps, err := svc.store.Query(ctx, docstore.Collection(coll).Where(field, docstore.OpEqual, code).WithLimit(1))
	if err != nil {
		return false, errors.Wrapf(err, "checking %s %s", coll, field)
	}
	return len(snaps) > 0, nil
}

// AllocateKindergartenCode returns an unused registration code for a kindergarten. A taken
// candidate gets a random "-NN" suffix, which is checked again.
func (svc *Service) AllocateKindergartenCode(ctx context.Context, provinceCode, name string) (string, error) {
	candidate := RegistrationCode(provinceCode, name)
	if candidate == "" {
		return "", nil
	}
	taken, err := svc.codeTaken(ctx, KindergartensCollection, "code", candidate)
	if err != nil || !taken {
		return candidate, err
	}
	for i := 0; i < maxCodeAttempts; i++ {
		code := fmt.Sprintf("%s-%02d", candidate, SuffixFunc())
		taken, err := svc.codeTaken(ctx, KindergartensCollection, "code", code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.Wrap(ErrCodeExhausted, candidate)
}

// AllocateBranchCode returns the next unused branch code under k, starting from its branch count.
func (svc *Service) AllocateBranchCode(ctx context.Context, k Kindergarten) (string, error) {
	if k.Code == "" {
		return "", ErrParentCodeMissing
	}
	for seq := k.BranchCount + 1; seq <= maxBranchCodeSeq; seq++ {
		code := BranchCode(k.Code, seq)
		taken, err := svc.codeTaken(ctx, BranchesCollection, "code", code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.Wrap(ErrCodeExhausted, k.Code)
}

// AllocatePublicID returns an unused public ID such as "GRD-1A2B3C4D" for a person of the given kind.
func (svc *Service) AllocatePublicID(ctx context.Context, kind PersonKind) (string, error) {
	prefix, ok := publicIDPrefixes[kind]
	if !ok {
		return "", errors.Errorf("unknown person kind %q", kind)
	}
	coll := personCollection(kind)
	for i := 0; i < maxCodeAttempts; i++ {
		id := prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		taken, err := svc.codeTaken(ctx, coll, "publicId", id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", errors.Wrap(ErrCodeExhausted, prefix)
}

func personCollection(kind PersonKind) string {
	switch kind {
	case KindTeacher:
		return TeachersCollection
	case KindDriver:
		return DriversCollection
	}
	return GuardiansCollection
}
