package main

import (
	"bytes"
	"embed"
	"html/template"

	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/nanotify"
	"github.com/brandur/neoadmin/internal/naroute"
)

//go:embed views/*.tmpl.html
var viewsFS embed.FS

const layoutTemplate = "views/layout.tmpl.html"

// LayoutData is what the shell layout around every protected page renders.
type LayoutData struct {
	Breadcrumbs   []naroute.Breadcrumb
	Collapsed     bool
	Content       any
	CurrentPath   string
	Menu          []naroute.MenuItem
	Notifications []nanotify.Notification
	Title         string
}

type LoginData struct {
	Notifications []nanotify.Notification
	PasswordError string
	Username      string
	UsernameError string
}

type DashboardData struct {
	Stats []Stat
}

// Parses a page template together with the layout it renders into. Pages
// define a "content" template which the layout includes.
func parsePage(page string) (*template.Template, error) {
	tmpl, err := template.ParseFS(viewsFS, layoutTemplate, "views/"+page)
	if err != nil {
		return nil, xerrors.Errorf("error parsing page %q: %w", page, err)
	}
	return tmpl, nil
}

func parseLogin() (*template.Template, error) {
	tmpl, err := template.ParseFS(viewsFS, "views/login.tmpl.html")
	if err != nil {
		return nil, xerrors.Errorf("error parsing login page: %w", err)
	}
	return tmpl, nil
}

func renderTemplate(tmpl *template.Template, name string, data any) ([]byte, error) {
	var b bytes.Buffer
	if err := tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return nil, xerrors.Errorf("error rendering template %q: %w", name, err)
	}
	return b.Bytes(), nil
}
