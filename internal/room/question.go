package room

import "encoding/json"

type Question struct {
	ID            string       `json:"questionId,omitempty"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	PlayerID      string       `json:"playerId,omitempty"`
	AdminInjected bool         `json:"adminInjected"`
}

// UnmarshalJSON accepts both "adminInjected" and "isAdminInjected"; the server
// has emitted either depending on its serializer settings.
func (q *Question) UnmarshalJSON(data []byte) error {
	type plain Question
	var aux struct {
		plain
		IsAdminInjected *bool `json:"isAdminInjected"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*q = Question(aux.plain)
	if aux.IsAdminInjected != nil {
		q.AdminInjected = *aux.IsAdminInjected
	}
	return nil
}
