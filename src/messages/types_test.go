package messages

import "testing"

func TestExpectsReply(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		reply Kind
		ok    bool
	}{
		{"count query", GetSelectedImages{}, KindSelectionCount, true},
		{"mode query", GetSelectionModeState{}, KindSelectionModeState, true},
		{"toggle", ToggleSelection{}, "", false},
		{"deliver", DeliverTranslation{TranslatedText: "x"}, "", false},
		{"add", AddTranslation{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExpectsReply(tt.msg)
			if ok != tt.ok || got != tt.reply {
				t.Errorf("ExpectsReply(%s) = %q,%v want %q,%v", tt.msg.Kind(), got, ok, tt.reply, tt.ok)
			}
		})
	}
}

func TestRespondWithoutReplyChannel(t *testing.T) {
	env := Envelope{From: ContextController, To: ContextSelector, Message: ToggleSelection{}}
	// must not panic or block
	env.Respond(SelectionCount{Count: 1})
}

func TestRespondDeliversOnce(t *testing.T) {
	ch := make(chan Message, 1)
	env := Envelope{Message: GetSelectedImages{}, Reply: ch}
	env.Respond(SelectionCount{Count: 3})
	env.Respond(SelectionCount{Count: 4})
	got := <-ch
	if c, ok := got.(SelectionCount); !ok || c.Count != 3 {
		t.Fatalf("unexpected reply %#v", got)
	}
}
