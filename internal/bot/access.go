package bot

import "github.com/zulandar/callsheet/internal/config"

// AccessDenied is sent to anyone not on the operator or admin lists.
const AccessDenied = "⛔ You do not have access to this bot. Contact an administrator to request access."

// Access answers allow-list questions. It is built once from configuration
// and never changes while the process runs.
type Access struct {
	operators map[string]bool
	admins    map[string]bool
	order     []string
}

// NewAccess builds an Access from the configured lists. Admins are
// implicitly operators.
func NewAccess(cfg config.AccessConfig) *Access {
	a := &Access{
		operators: make(map[string]bool),
		admins:    make(map[string]bool),
	}
	for _, id := range cfg.Operators {
		a.add(id, false)
	}
	for _, id := range cfg.Admins {
		a.add(id, true)
	}
	return a
}

func (a *Access) add(id string, admin bool) {
	if id == "" {
		return
	}
	if !a.operators[id] {
		a.order = append(a.order, id)
	}
	a.operators[id] = true
	if admin {
		a.admins[id] = true
	}
}

// IsOperator reports whether id may use the bot.
func (a *Access) IsOperator(id string) bool {
	return a.operators[id]
}

// IsAdmin reports whether id may use the admin panel.
func (a *Access) IsAdmin(id string) bool {
	return a.admins[id]
}

// Recipients returns every distinct operator and admin ID in configuration
// order. Broadcasts go to this list.
func (a *Access) Recipients() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Counts returns the number of operators (admins included) and admins.
func (a *Access) Counts() (operators, admins int) {
	return len(a.operators), len(a.admins)
}
