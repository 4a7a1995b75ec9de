// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil {
		t.Fatal("GetValidator() returned nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same instance")
	}
}

type boostRequest struct {
	Tag        string  `json:"tag" validate:"required,tag"`
	Multiplier float64 `json:"multiplier" validate:"gte=0,lte=10"`
}

type feedbackRequest struct {
	WorkID int64  `json:"work_id" validate:"required,gt=0"`
	Action string `json:"action" validate:"required,feedback_action"`
}

type blockRequest struct {
	Kind    string `json:"kind" validate:"required,subject_kind"`
	Subject string `json:"subject" validate:"required,max=128"`
}

type strategyQuery struct {
	Strategy string `json:"strategy" validate:"omitempty,strategy_id"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     interface{}
		wantField string
		wantTag   string
	}{
		{"valid boost", &boostRequest{Tag: "white_hair", Multiplier: 1.5}, "", ""},
		{"blank tag", &boostRequest{Tag: "   ", Multiplier: 1}, "tag", "tag"},
		{"control char tag", &boostRequest{Tag: "a\nb", Multiplier: 1}, "tag", "tag"},
		{"negative multiplier", &boostRequest{Tag: "x", Multiplier: -1}, "multiplier", "gte"},
		{"valid feedback", &feedbackRequest{WorkID: 42, Action: "like"}, "", ""},
		{"numeric feedback", &feedbackRequest{WorkID: 42, Action: "2"}, "", ""},
		{"zero work id", &feedbackRequest{WorkID: 0, Action: "like"}, "work_id", "required"},
		{"bad action", &feedbackRequest{WorkID: 1, Action: "love"}, "action", "feedback_action"},
		{"valid block", &blockRequest{Kind: "artist", Subject: "123"}, "", ""},
		{"bad kind", &blockRequest{Kind: "user", Subject: "123"}, "kind", "subject_kind"},
		{"empty strategy ok", &strategyQuery{}, "", ""},
		{"unknown strategy", &strategyQuery{Strategy: "magic"}, "strategy", "strategy_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(tt.input)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			fe := err.Errors()[0]
			if fe.Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", fe.Field(), tt.wantField)
			}
			if fe.Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", fe.Tag(), tt.wantTag)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	single := ValidateStruct(&feedbackRequest{WorkID: 0, Action: "like"})
	apiErr := single.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", apiErr.Code)
	}
	if apiErr.Message != "work_id is required" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Details["field"] != "work_id" {
		t.Errorf("Details = %v", apiErr.Details)
	}

	multi := ValidateStruct(&feedbackRequest{}).ToAPIError()
	if !strings.Contains(multi.Message, "work_id:") || !strings.Contains(multi.Message, "action:") {
		t.Errorf("multi message = %q", multi.Message)
	}
	if _, ok := multi.Details["fields"]; !ok {
		t.Error("multi error should list fields")
	}
}

func TestTranslateMinMax(t *testing.T) {
	t.Parallel()

	type req struct {
		Name  string `json:"name" validate:"min=3"`
		Limit int    `json:"limit" validate:"max=5"`
	}
	err := ValidateStruct(&req{Name: "ab", Limit: 9})
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "name must be at least 3 characters") {
		t.Errorf("missing string min message: %s", msg)
	}
	if !strings.Contains(msg, "limit must be at most 5") {
		t.Errorf("missing numeric max message: %s", msg)
	}
}
