// Package student implements the Student aggregate: command validation,
// event authoring and the pure fold that rebuilds state from events.
package student

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
)

// Field names reported in validation errors.
const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldName     = "name"
	FieldSurname  = "surname"
	FieldEmail    = "email"
)

const (
	minUsername = 3
	maxUsername = 50
	minPassword = 8
)

// State is the lifecycle position of an aggregate.
type State int

const (
	NonExistent State = iota
	Active
	Deleted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Deleted:
		return "deleted"
	default:
		return "non-existent"
	}
}

// StateOf derives the lifecycle state of s.
func StateOf(s model.Student) State {
	switch {
	case !s.Exists():
		return NonExistent
	case s.Deleted:
		return Deleted
	default:
		return Active
	}
}

// Env carries the inputs of Decide that are not part of the command.
type Env struct {
	TenantID string
	Now      time.Time
	// Seal turns a validated plaintext password into the stored credential blob.
	// Nil stores the value unchanged.
	Seal func(plain string) (string, error)
}

// Decide validates cmd against s and returns the single event it produces.
// It performs no I/O; the event has no ID yet.
func Decide(s model.Student, cmd model.Command, env Env) (model.Event, error) {
	switch cmd.Kind {
	case model.CreateStudent:
		return decideCreate(s, cmd, env)
	case model.UpdateStudent:
		return decideUpdate(s, cmd, env)
	case model.DeleteStudent:
		return decideDelete(s, cmd, env)
	default:
		return model.Event{}, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}

func decideCreate(s model.Student, cmd model.Command, env Env) (model.Event, error) {
	if StateOf(s) != NonExistent {
		return model.Event{}, errs.ErrAlreadyExists
	}
	p := model.Profile{
		Username:         strings.TrimSpace(deref(cmd.Fields.Username)),
		Password:         deref(cmd.Fields.Password),
		Name:             strings.TrimSpace(deref(cmd.Fields.Name)),
		Surname:          strings.TrimSpace(deref(cmd.Fields.Surname)),
		Email:            strings.TrimSpace(deref(cmd.Fields.Email)),
		Faculty:          strings.TrimSpace(deref(cmd.Fields.Faculty)),
		Department:       strings.TrimSpace(deref(cmd.Fields.Department)),
		InternshipStatus: strings.TrimSpace(deref(cmd.Fields.InternshipStatus)),
	}

	var v errs.ValidationError
	checkUsername(&v, p.Username)
	checkPassword(&v, p.Password)
	checkRequired(&v, FieldName, p.Name)
	checkRequired(&v, FieldSurname, p.Surname)
	checkEmail(&v, p.Email)
	if err := v.OrNil(); err != nil {
		return model.Event{}, err
	}

	sealed, err := seal(env, p.Password)
	if err != nil {
		return model.Event{}, err
	}
	p.Password = sealed
	return newEvent(model.StudentCreated, cmd, env, 1, p), nil
}

func decideUpdate(s model.Student, cmd model.Command, env Env) (model.Event, error) {
	if StateOf(s) != Active {
		return model.Event{}, errs.ErrNotFound
	}
	f := cmd.Fields
	p := s.Profile

	var v errs.ValidationError
	if f.Username != nil {
		p.Username = strings.TrimSpace(*f.Username)
		checkUsername(&v, p.Username)
	}
	if f.Password != nil {
		checkPassword(&v, *f.Password)
	}
	if f.Name != nil {
		p.Name = strings.TrimSpace(*f.Name)
		checkRequired(&v, FieldName, p.Name)
	}
	if f.Surname != nil {
		p.Surname = strings.TrimSpace(*f.Surname)
		checkRequired(&v, FieldSurname, p.Surname)
	}
	if f.Email != nil {
		p.Email = strings.TrimSpace(*f.Email)
		checkEmail(&v, p.Email)
	}
	if f.Faculty != nil {
		p.Faculty = strings.TrimSpace(*f.Faculty)
	}
	if f.Department != nil {
		p.Department = strings.TrimSpace(*f.Department)
	}
	if f.InternshipStatus != nil {
		p.InternshipStatus = strings.TrimSpace(*f.InternshipStatus)
	}
	if err := v.OrNil(); err != nil {
		return model.Event{}, err
	}

	if f.Password != nil {
		sealed, err := seal(env, *f.Password)
		if err != nil {
			return model.Event{}, err
		}
		p.Password = sealed
	}
	return newEvent(model.StudentUpdated, cmd, env, s.Version+1, p), nil
}

// decideDelete rejects a second delete even though the read side is
// unchanged by it.
func decideDelete(s model.Student, cmd model.Command, env Env) (model.Event, error) {
	if StateOf(s) != Active {
		return model.Event{}, errs.ErrNotFound
	}
	return newEvent(model.StudentDeleted, cmd, env, s.Version+1, s.Profile), nil
}

func newEvent(typ model.EventType, cmd model.Command, env Env, seq int64, p model.Profile) model.Event {
	return model.Event{
		Type:           typ,
		AggregateID:    cmd.StudentID,
		TenantID:       env.TenantID,
		Seq:            seq,
		Snapshot:       p,
		Timestamp:      env.Now.UTC(),
		IdempotencyKey: cmd.IdempotencyKey,
	}
}

func seal(env Env, plain string) (string, error) {
	if env.Seal == nil {
		return plain, nil
	}
	out, err := env.Seal(plain)
	if err != nil {
		return "", fmt.Errorf("seal credential: %w", err)
	}
	return out, nil
}

func checkUsername(v *errs.ValidationError, u string) {
	if n := utf8.RuneCountInString(u); n < minUsername || n > maxUsername {
		v.Add(FieldUsername, fmt.Sprintf("length must be between %d and %d", minUsername, maxUsername))
	}
}

func checkPassword(v *errs.ValidationError, p string) {
	if utf8.RuneCountInString(p) < minPassword {
		v.Add(FieldPassword, fmt.Sprintf("must be at least %d characters", minPassword))
	}
}

func checkRequired(v *errs.ValidationError, field, val string) {
	if val == "" {
		v.Add(field, "must not be blank")
	}
}

func checkEmail(v *errs.ValidationError, email string) {
	if email == "" {
		v.Add(FieldEmail, "must not be blank")
		return
	}
	if !ValidEmail(email) {
		v.Add(FieldEmail, "must be a valid email address")
	}
}

// ValidEmail reports whether s is a bare addr-spec with a non-empty domain.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
