package formstore

// Handler carries the per-form mail routing attributes: the sender
// identity, recipients, and the template used to render the mail body.
type Handler struct {
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	To        string `json:"to"`
	ReplyTo   string `json:"reply_to"`
	Template  string `json:"template"`
	Gateway   string `json:"gateway,omitempty"`
}

// Form is the metadata record the form store returns for a form_id.
type Form struct {
	ID              string  `json:"id"`
	AllowDuplicates bool    `json:"allow_duplicates"`
	Handler         Handler `json:"handler"`
}
