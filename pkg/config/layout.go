package config

import (
	"path/filepath"
	"strings"

	"bv2src/internal/models"
)

// DirTemplates are the per-subject directory templates of the MNE database.
// Placeholders: {database}, {db_mne}, {db_bv}, {db_fs}, {project},
// {subject} and {session}.
type DirTemplates struct {
	Raw   string `yaml:"raw"`
	Prep  string `yaml:"prep"`
	Trans string `yaml:"trans"`
	MRI   string `yaml:"mri"`
	Src   string `yaml:"src"`
	BEM   string `yaml:"bem"`
	Fwd   string `yaml:"fwd"`
	HGA   string `yaml:"hga"`
}

// DefaultDirTemplates returns the standard db_mne tree
func DefaultDirTemplates() DirTemplates {
	return DirTemplates{
		Raw:   "{db_mne}/{project}/{subject}/raw/{session}",
		Prep:  "{db_mne}/{project}/{subject}/prep/{session}",
		Trans: "{db_mne}/{project}/{subject}/trans",
		MRI:   "{db_mne}/{project}/{subject}/mri",
		Src:   "{db_mne}/{project}/{subject}/src",
		BEM:   "{db_mne}/{project}/{subject}/bem",
		Fwd:   "{db_mne}/{project}/{subject}/fwd",
		HGA:   "{db_mne}/{project}/{subject}/hga/{session}",
	}
}

// Dirs are the directories of one subject and session
type Dirs struct {
	Raw, Prep, Trans, MRI, Src, BEM, Fwd, HGA string
}

// Layout binds the directory templates to a database and project
type Layout struct {
	Root      string
	Project   string
	Templates DirTemplates
}

// Layout returns the path layout described by the configuration
func (c *Config) Layout() Layout {
	return Layout{Root: c.Database.Root, Project: c.Database.Project, Templates: c.Dirs}
}

// Resolve returns the directories of a subject. Session may be empty for
// subject-level work, in which case session directories stop at the subject.
func (l Layout) Resolve(subject, session string) Dirs {
	t := l.Templates
	x := func(tmpl string) string { return l.Expand(tmpl, subject, session, "") }
	return Dirs{
		Raw:   x(t.Raw),
		Prep:  x(t.Prep),
		Trans: x(t.Trans),
		MRI:   x(t.MRI),
		Src:   x(t.Src),
		BEM:   x(t.BEM),
		Fwd:   x(t.Fwd),
		HGA:   x(t.HGA),
	}
}

// Expand fills a path template. {H} and {hemi} expand to the hemisphere
// letter and tag when hemi is set. An empty template stays empty.
func (l Layout) Expand(tmpl, subject, session string, hemi models.Hemisphere) string {
	if tmpl == "" {
		return ""
	}
	pairs := []string{
		"{db_mne}", filepath.Join(l.Root, "db_mne"),
		"{db_bv}", filepath.Join(l.Root, "db_brainvisa"),
		"{db_fs}", filepath.Join(l.Root, "db_freesurfer"),
		"{database}", l.Root,
		"{project}", l.Project,
		"{subject}", subject,
		"{session}", session,
	}
	if hemi != "" {
		pairs = append(pairs, "{H}", hemi.Letter(), "{hemi}", string(hemi))
	}
	return filepath.Clean(strings.NewReplacer(pairs...).Replace(tmpl))
}
