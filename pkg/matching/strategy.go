package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ldp-health/platform/pkg/common/models"
	"gorm.io/gorm"
)

// ErrNoPredicates is returned when a record with no searchable fields reaches
// a strategy. The matching service filters such rows out first; seeing one
// here is a caller bug, and silently matching everything would be worse.
var ErrNoPredicates = errors.New("record has no searchable fields")

// Strategy finds MPI matches for a batch of cleaned records. The result is
// aligned 1:1, in order, with the input.
type Strategy interface {
	FindPatients(ctx context.Context, records []models.PatientRecord) ([][]string, error)
}

// ExactMatchStrategy matches entirely in SQL: every non-empty field of a row
// becomes an equality predicate and all tied patient ids come back. One
// batched query covers the whole subset.
type ExactMatchStrategy struct {
	db *gorm.DB
}

func NewExactMatchStrategy(db *gorm.DB) *ExactMatchStrategy {
	return &ExactMatchStrategy{db: db}
}

func (s *ExactMatchStrategy) FindPatients(ctx context.Context, records []models.PatientRecord) ([][]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	args := make([]interface{}, 0, len(records)*7)
	sb.WriteString("WITH query_data (ord, nhs_number, dob, postcode, given_name, family_name, sex) AS (VALUES ")
	for i, rec := range records {
		if !rec.HasDemographics() {
			return nil, fmt.Errorf("row %d: %w", i, ErrNoPredicates)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		if i == 0 {
			// Casts on the first VALUES row type the whole CTE.
			sb.WriteString("(?::int, NULLIF(?::text,''), NULLIF(?::text,''), NULLIF(?::text,''), NULLIF(?::text,''), NULLIF(?::text,''), NULLIF(?::text,''))")
		} else {
			sb.WriteString("(?, NULLIF(?,''), NULLIF(?,''), NULLIF(?,''), NULLIF(?,''), NULLIF(?,''), NULLIF(?,''))")
		}
		args = append(args, i, rec.NHSNumber, rec.DateOfBirth, rec.Postcode, rec.FirstName, rec.LastName, rec.Sex)
	}
	sb.WriteString(`)
SELECT q.ord, p.patient_id
FROM query_data q
JOIN patients p ON
	(q.nhs_number IS NULL OR p.nhs_number = q.nhs_number)
	AND (q.dob IS NULL OR p.date_of_birth = q.dob)
	AND (q.postcode IS NULL OR p.postcode = q.postcode)
	AND (q.given_name IS NULL OR p.given_name = q.given_name)
	AND (q.family_name IS NULL OR p.family_name = q.family_name)
	AND (q.sex IS NULL OR p.sex = q.sex)
ORDER BY q.ord, p.patient_id`)

	rows, err := s.db.WithContext(ctx).Raw(sb.String(), args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("exact match query: %w", err)
	}
	defer rows.Close()

	results := make([][]string, len(records))
	for i := range results {
		results[i] = []string{}
	}
	for rows.Next() {
		var ord int
		var patientID string
		if err := rows.Scan(&ord, &patientID); err != nil {
			return nil, fmt.Errorf("scanning exact match row: %w", err)
		}
		if ord < 0 || ord >= len(results) {
			return nil, fmt.Errorf("exact match returned out-of-range ordinal %d", ord)
		}
		results[ord] = append(results[ord], patientID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading exact match rows: %w", err)
	}

	return results, nil
}

// CandidateSource supplies the comparison pool for probabilistic matching.
type CandidateSource interface {
	Candidates(ctx context.Context, limit int) ([]Patient, error)
}

// ProbabilisticStrategy scores records against a candidate pool with
// Jaro-Winkler over a composite demographic key and keeps everything at or
// above the threshold.
type ProbabilisticStrategy struct {
	source    CandidateSource
	threshold float64
	pool      int
}

func NewProbabilisticStrategy(source CandidateSource, threshold float64, pool int) *ProbabilisticStrategy {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.92
	}
	if pool <= 0 {
		pool = 500
	}
	return &ProbabilisticStrategy{source: source, threshold: threshold, pool: pool}
}

func (s *ProbabilisticStrategy) FindPatients(ctx context.Context, records []models.PatientRecord) ([][]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	candidates, err := s.source.Candidates(ctx, s.pool)
	if err != nil {
		return nil, fmt.Errorf("loading match candidates: %w", err)
	}

	results := make([][]string, len(records))
	for i, rec := range records {
		if !rec.HasDemographics() {
			return nil, fmt.Errorf("row %d: %w", i, ErrNoPredicates)
		}
		target := compositeKey(rec.LastName, rec.FirstName, rec.DateOfBirth, rec.Postcode)

		type scored struct {
			id    string
			score float64
		}
		var matches []scored
		for _, candidate := range candidates {
			key := compositeKey(candidate.FamilyName, candidate.GivenName, candidate.DateOfBirth, candidate.Postcode)
			if score := jaroWinkler(target, key); score >= s.threshold {
				matches = append(matches, scored{id: candidate.PatientID, score: score})
			}
		}
		sort.Slice(matches, func(a, b int) bool {
			if matches[a].score != matches[b].score {
				return matches[a].score > matches[b].score
			}
			return matches[a].id < matches[b].id
		})

		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.id)
		}
		results[i] = ids
	}

	return results, nil
}

func compositeKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(p)); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, "|")
}

func jaroWinkler(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	if s1 == "" || s2 == "" {
		return 0
	}

	matchDistance := max(len(s1), len(s2))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	s1Matches := make([]bool, len(s1))
	s2Matches := make([]bool, len(s2))

	matches := 0
	transpositions := 0

	for i := range s1 {
		start := max(0, i-matchDistance)
		end := min(i+matchDistance+1, len(s2))
		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	k := 0
	for i := range s1 {
		if !s1Matches[i] {
			continue
		}
		for ; !s2Matches[k]; k++ {
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	transpositions /= 2

	jaro := (float64(matches)/float64(len(s1)) + float64(matches)/float64(len(s2)) + float64(matches-transpositions)/float64(matches)) / 3

	prefix := 0
	for i := 0; i < min(4, min(len(s1), len(s2))); i++ {
		if s1[i] == s2[i] {
			prefix++
		} else {
			break
		}
	}

	return jaro + float64(prefix)*0.1*(1-jaro)
}
