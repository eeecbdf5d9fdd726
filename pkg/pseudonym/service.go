// Package pseudonym derives deterministic tokens for identifying fields so
// that equal values pseudonymise to equal tokens and exact-match joins keep
// working against the MPI.
package pseudonym

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ldp-health/platform/pkg/common/models"
	"golang.org/x/crypto/hkdf"
)

const (
	FieldNHSNumber = "nhs_number"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"

	tokenDigestLen = 26
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// VaultStore persists token-to-value mappings. May be nil when
// re-identification is not required.
type VaultStore interface {
	Save(ctx context.Context, record VaultRecord) error
	Lookup(ctx context.Context, token string) (VaultRecord, error)
}

type Service struct {
	vault      VaultStore
	masterKey  []byte
	keyVersion string
}

func NewService(vault VaultStore, masterKey, keyVersion string) (*Service, error) {
	if len(masterKey) < 16 {
		return nil, errors.New("pseudonym master key must be at least 16 characters")
	}
	if keyVersion == "" {
		keyVersion = "v1"
	}
	return &Service{
		vault:      vault,
		masterKey:  []byte(masterKey),
		keyVersion: keyVersion,
	}, nil
}

// Tokenize produces the deterministic token for a field value and records the
// mapping in the vault. Empty values pass through untouched.
func (s *Service) Tokenize(ctx context.Context, field, value string) (string, error) {
	if value == "" {
		return "", nil
	}

	key, err := s.fieldKey(field)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	digest := strings.ToLower(tokenEncoding.EncodeToString(mac.Sum(nil)))
	if len(digest) > tokenDigestLen {
		digest = digest[:tokenDigestLen]
	}
	token := fmt.Sprintf("p_%s_%s", s.keyVersion, digest)

	if s.vault != nil {
		record := VaultRecord{Token: token, Field: field, Value: value, KeyVersion: s.keyVersion}
		if err := s.vault.Save(ctx, record); err != nil {
			return "", fmt.Errorf("saving vault record: %w", err)
		}
	}

	return token, nil
}

// PseudonymiseRecord returns a copy of the record with the directly
// identifying fields replaced by tokens. Date of birth, postcode and sex are
// left clear, they carry the matching signal for traces.
func (s *Service) PseudonymiseRecord(ctx context.Context, rec models.PatientRecord) (models.PatientRecord, error) {
	out := rec

	token, err := s.Tokenize(ctx, FieldNHSNumber, rec.NHSNumber)
	if err != nil {
		return models.PatientRecord{}, err
	}
	out.NHSNumber = token

	token, err = s.Tokenize(ctx, FieldFirstName, rec.FirstName)
	if err != nil {
		return models.PatientRecord{}, err
	}
	out.FirstName = token

	token, err = s.Tokenize(ctx, FieldLastName, rec.LastName)
	if err != nil {
		return models.PatientRecord{}, err
	}
	out.LastName = token

	return out, nil
}

// Reidentify resolves a token back to its source value through the vault.
func (s *Service) Reidentify(ctx context.Context, token string) (string, error) {
	if s.vault == nil {
		return "", errors.New("no vault configured")
	}
	record, err := s.vault.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return record.Value, nil
}

func (s *Service) fieldKey(field string) ([]byte, error) {
	info := []byte("pseudonym:" + s.keyVersion + ":" + field)
	reader := hkdf.New(sha256.New, s.masterKey, nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving field key: %w", err)
	}
	return key, nil
}
