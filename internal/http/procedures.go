package http

import (
	"context"
	"encoding/json"

	"spendlog/internal/core"
)

func (s *Server) registerProcedures() {
	s.procedures = map[string]procedure{
		"records.createRecord":          mutation(s.createRecord),
		"records.userWithRecords":       query(s.userWithRecords),
		"records.stats":                 query(s.recordStats),
		"records.aiInsights":            query(s.aiInsights),
		"records.generateInsightAnswer": mutation(s.generateInsightAnswer),
		"currentUser":                   query(s.currentUser),
		"allUsers":                      query(s.allUsers),
	}
}

func (s *Server) createRecord(ctx context.Context, input json.RawMessage) (any, error) {
	var in core.CreateRecordInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	rec, err := s.services.Records.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	return newRecordView(rec, s.now()), nil
}

type userWithRecordsInput struct {
	UserID string `json:"userId"`
}

func (s *Server) userWithRecords(ctx context.Context, input json.RawMessage) (any, error) {
	var in userWithRecordsInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	uwr, err := s.services.Records.UserWithRecords(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return userWithRecordsView{User: uwr.User, Records: newRecordViews(uwr.Records, s.now())}, nil
}

func (s *Server) recordStats(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.services.Records.Stats(ctx)
}

func (s *Server) aiInsights(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.services.Insights.Insights(ctx)
}

type answerInput struct {
	Question  string `json:"question"`
	InsightID string `json:"insightId"`
}

type answerOutput struct {
	Answer string `json:"answer"`
}

func (s *Server) generateInsightAnswer(ctx context.Context, input json.RawMessage) (any, error) {
	var in answerInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	answer, err := s.services.Insights.Answer(ctx, in.Question, in.InsightID)
	if err != nil {
		return nil, err
	}
	return answerOutput{Answer: answer}, nil
}

func (s *Server) currentUser(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.services.Users.Current(ctx)
}

func (s *Server) allUsers(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.services.Users.All(ctx)
}
