package cardflow

// CardView is what a viewer may see of one card. PartnerAnswer is empty
// until the card is revealed.
type CardView struct {
	Index           int       `json:"index"`
	Question        string    `json:"question"`
	Options         []string  `json:"options"`
	State           CardState `json:"state"`
	MyAnswer        string    `json:"my_answer,omitempty"`
	PartnerAnswered bool      `json:"partner_answered"`
	PartnerAnswer   string    `json:"partner_answer,omitempty"`
	Revealed        bool      `json:"revealed"`
}

// View is the viewer's snapshot of the whole flow.
type View struct {
	Phase   Phase      `json:"phase"`
	Current int        `json:"current"`
	Partner string     `json:"partner_id"`
	Cards   []CardView `json:"cards"`
}

// View renders the flow for the viewer.
func (f *Flow) View() View {
	view := View{
		Phase:   f.phase,
		Current: f.current,
		Partner: f.partner,
		Cards:   make([]CardView, len(f.prompts)),
	}
	for i, prompt := range f.prompts {
		mine, _ := f.MyAnswer(i)
		theirs, _ := f.PartnerAnswer(i)
		view.Cards[i] = CardView{
			Index:           i,
			Question:        prompt.Question,
			Options:         append([]string(nil), prompt.Options...),
			State:           f.State(i),
			MyAnswer:        mine,
			PartnerAnswered: f.PartnerAnswered(i),
			PartnerAnswer:   theirs,
			Revealed:        f.Revealed(i),
		}
	}
	return view
}
