package booking

import (
	"context"
	"net/mail"

	"github.com/sirupsen/logrus"
)

// People is the admin view of the guest directory that Create keeps
// up to date.
type People struct {
	Store PersonStore
	Log   logrus.FieldLogger
}

// Search returns people whose name contains the query, ignoring case.
func (p *People) Search(ctx context.Context, name string) ([]Person, error) {
	return p.Store.SearchPeople(ctx, name)
}

// Delete removes a person by email. Their reservations are untouched.
func (p *People) Delete(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return &FieldError{Field: "email", Message: "must be a valid email address"}
	}
	if err := p.Store.DeletePerson(ctx, email); err != nil {
		return err
	}
	logOr(p.Log).WithField("email", email).Info("person deleted")
	return nil
}
