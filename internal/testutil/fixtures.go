package testutil

import "github.com/jb-612/dox-asdlc-sub004/internal/model"

// Guideline returns an enabled custom guideline named after its id. An empty
// action type defaults to instruction.
func Guideline(id string, priority int, cond model.Condition, action model.Action) model.Guideline {
	if action.Type == "" {
		action.Type = model.ActionInstruction
	}
	return model.Guideline{
		ID:        id,
		Name:      id,
		Enabled:   true,
		Category:  model.CategoryCustom,
		Priority:  priority,
		Condition: cond,
		Action:    action,
		Version:   1,
	}
}
