package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"loanops/internal/config"
	"loanops/internal/domain"
	"loanops/internal/engine/auth"
	"loanops/internal/events"
	"loanops/internal/repo"
)

// Directory is the read-only view of the user directory the core relies on.
type Directory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListActiveUsers(ctx context.Context) ([]domain.User, error)
}

// TreeCache caches the computed hierarchy forest. InvalidateTree bumps a
// generation; SetTree must drop a forest whose generation is no longer current.
type TreeCache interface {
	GetTree(ctx context.Context) ([]domain.HierarchyNode, bool, error)
	TreeGeneration(ctx context.Context) (int64, error)
	SetTree(ctx context.Context, gen int64, forest []domain.HierarchyNode) (bool, error)
	InvalidateTree(ctx context.Context) error
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Auth      *auth.Service
	Directory Directory
	Cache     TreeCache
	Log       logrus.FieldLogger
	Now       func() time.Time

	// hierMu serializes hierarchy mutations from this process.
	hierMu *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	r := repo.Repo{DB: db}
	log := logrus.StandardLogger()
	authSvc, err := auth.NewService(cfg, r, log)
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:        db,
		Repo:      r,
		Config:    cfg,
		Auth:      authSvc,
		Directory: r,
		Log:       log,
		Now:       time.Now,
		hierMu:    &sync.Mutex{},
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// UnknownUserError is returned when a referenced user is missing from the
// directory or is deactivated.
type UnknownUserError struct {
	UserID   string
	Inactive bool
}

func (e *UnknownUserError) Error() string {
	if e.Inactive {
		return fmt.Sprintf("user %s is inactive", e.UserID)
	}
	return fmt.Sprintf("user %s not found", e.UserID)
}

type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition %s -> %s", e.From, e.To)
}

// InputError reports malformed caller input.
type InputError struct {
	Msg string
	Err error
}

func (e InputError) Error() string { return e.Msg }
func (e InputError) Unwrap() error { return e.Err }

func inputErrorf(format string, args ...any) error {
	return InputError{Msg: fmt.Sprintf(format, args...)}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// checkInput runs struct validation and converts failures to InputError.
func checkInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must be a date in %s layout", fe.Field(), fe.Param()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be an email address", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return InputError{Msg: strings.Join(msgs, "; "), Err: err}
}

// requireActiveUser resolves id through tx so the check and the write that
// depends on it see the same snapshot.
func (e Engine) requireActiveUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	u, err := e.Repo.GetUserTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, &UnknownUserError{UserID: id}
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user %s: %w", id, err)
	}
	if !u.IsActive {
		return domain.User{}, &UnknownUserError{UserID: id, Inactive: true}
	}
	return u, nil
}

// WhoAmI reports the effective roles and permissions of actorID.
func (e Engine) WhoAmI(ctx context.Context, actorID string) (domain.WhoAmI, error) {
	roles, err := e.Auth.RolesFor(ctx, actorID)
	if err != nil {
		return domain.WhoAmI{}, err
	}
	perms, err := e.Auth.Permissions(roles)
	if err != nil {
		return domain.WhoAmI{}, err
	}
	return domain.WhoAmI{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}
