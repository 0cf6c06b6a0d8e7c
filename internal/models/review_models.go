package models

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrEmptyBatch = errors.New("empty batch")

// Review is one raw record as produced upstream.
type Review struct {
	MovieName  string `json:"movie_name"`
	ReviewText string `json:"review_text"`
}

// ReviewBatch is the payload of a single queue job.
type ReviewBatch []Review

func (b ReviewBatch) Validate() error {
	if len(b) == 0 {
		return ErrEmptyBatch
	}
	return nil
}

// DecodeReviewBatch accepts either a bare array or a {"reviews": [...]} envelope.
func DecodeReviewBatch(data []byte) (ReviewBatch, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			Reviews ReviewBatch `json:"reviews"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, err
		}
		return envelope.Reviews, nil
	}

	var batch ReviewBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}
