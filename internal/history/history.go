package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"courier/internal/db"

	"github.com/openai/openai-go/v3/responses"
)

// Store persists conversation turns per session. Each turn keeps the user
// message and the raw model response so history replays losslessly into the
// next API call.
type Store struct {
	conn *sql.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{conn: database.Conn()}
}

func (s *Store) EnsureSession(ctx context.Context, sessionID, agent string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, agent) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		sessionID, agent,
	)
	return err
}

func (s *Store) SaveTurn(ctx context.Context, sessionID, userMessage string, resp *responses.Response) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO turns (session_id, user_message, response_json, model) VALUES (?, ?, ?, ?)`,
		sessionID, userMessage, resp.RawJSON(), string(resp.Model),
	)
	return err
}

func (s *Store) LoadInputHistory(ctx context.Context, sessionID string) ([]responses.ResponseInputItemUnionParam, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, user_message, response_json FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []responses.ResponseInputItemUnionParam
	for rows.Next() {
		var (
			id           int64
			userMessage  string
			responseJSON string
		)
		if err := rows.Scan(&id, &userMessage, &responseJSON); err != nil {
			return nil, err
		}

		items = append(items, responses.ResponseInputItemParamOfMessage(userMessage, "user"))

		var resp responses.Response
		if err := json.Unmarshal([]byte(responseJSON), &resp); err != nil {
			slog.Warn("skipping turn with invalid response JSON", "turn_id", id, "error", err)
			continue
		}

		items = append(items, OutputToInput(resp.Output)...)
	}
	return items, rows.Err()
}

// OutputToInput converts response output items into input item params for
// the next API call. Each output type's ToParam() round-trips losslessly
// via RawJSON.
func OutputToInput(output []responses.ResponseOutputItemUnion) []responses.ResponseInputItemUnionParam {
	var items []responses.ResponseInputItemUnionParam
	for _, item := range output {
		switch item.Type {
		case "message":
			v := item.AsMessage().ToParam()
			items = append(items, responses.ResponseInputItemUnionParam{OfOutputMessage: &v})
		case "function_call":
			v := item.AsFunctionCall().ToParam()
			items = append(items, responses.ResponseInputItemUnionParam{OfFunctionCall: &v})
		case "reasoning":
			v := item.AsReasoning().ToParam()
			items = append(items, responses.ResponseInputItemUnionParam{OfReasoning: &v})
		default:
			slog.Debug("skipping unknown output item type", "type", item.Type)
		}
	}
	return items
}
