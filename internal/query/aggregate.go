package query

import (
	"fmt"
	"sort"
	"time"
)

// GroupResult is one bucket of a group_by aggregation yields counts, percentages, and per-group averages
// (confidence, character delta)").
type GroupResult struct {
	Key           string
	Count         int
	Percentage    float64
	AvgConfidence float64
	AvgCharDelta  float64
}

var allowedGroupFields = map[string]bool{
	"category": true, "source": true, "status": true, "provider": true, "model": true, "session_id": true,
}

// GroupBy aggregates the builder's matching rows by field.
func (b *Builder) GroupBy(field string) ([]GroupResult, error) {
	if !allowedGroupFields[field] {
		return nil, fmt.Errorf("query: unknown group_by field %q", field)
	}
	ids, err := b.IDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := "(" + join(placeholders, ",") + ")"

	rows, err := b.idx.db.Query(fmt.Sprintf(`
		SELECT %s AS key, COUNT(*), AVG(confidence), AVG(LENGTH(after_text) - LENGTH(before_text))
		FROM changes WHERE id IN %s GROUP BY %s
	`, field, inClause, field), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	total := len(ids)
	var out []GroupResult
	for rows.Next() {
		var g GroupResult
		if err := rows.Scan(&g.Key, &g.Count, &g.AvgConfidence, &g.AvgCharDelta); err != nil {
			return nil, err
		}
		g.Percentage = float64(g.Count) / float64(total) * 100
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, rows.Err()
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// TimelineBucket is one bucket of a timeline aggregation.
type TimelineBucket struct {
	BucketStart time.Time
	Count       int
}

// Timeline buckets the builder's matching rows by the given granularity,
// optionally gap-filling empty buckets between the first and last
// timestamp.
func (b *Builder) Timeline(unit TimeUnit, fillGaps bool) ([]TimelineBucket, error) {
	ids, err := b.IDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bucketSize := unit.duration(1)
	counts := make(map[int64]int)
	var minBucket, maxBucket int64
	first := true

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := b.idx.db.Query(fmt.Sprintf(`SELECT timestamp_unix FROM changes WHERE id IN (%s)`, join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		bucket := (ts / int64(bucketSize.Seconds())) * int64(bucketSize.Seconds())
		counts[bucket]++
		if first || bucket < minBucket {
			minBucket = bucket
		}
		if first || bucket > maxBucket {
			maxBucket = bucket
		}
		first = false
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []TimelineBucket
	if fillGaps {
		for bucket := minBucket; bucket <= maxBucket; bucket += int64(bucketSize.Seconds()) {
			out = append(out, TimelineBucket{BucketStart: time.Unix(bucket, 0), Count: counts[bucket]})
		}
		return out, nil
	}

	var buckets []int64
	for bucket := range counts {
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
	for _, bucket := range buckets {
		out = append(out, TimelineBucket{BucketStart: time.Unix(bucket, 0), Count: counts[bucket]})
	}
	return out, nil
}
