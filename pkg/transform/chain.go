// Package transform resolves chains of pairwise registration transforms into a
// single homogeneous affine and applies affines to point sets.
package transform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	srcerr "bv2src/pkg/errors"
	"bv2src/pkg/logging"
)

// Entry is one line of a transform reference file
type Entry struct {
	// Name is a path template with a subject placeholder ({0} or {subject})
	Name string

	// Invert requests the inverse of the referenced matrix
	Invert bool
}

// Chain is an ordered transform reference list
type Chain []Entry

// ParseReference reads one entry per non-blank line: "<name>" or "inv <name>".
func ParseReference(r io.Reader) (Chain, error) {
	var chain Chain
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		e := Entry{Name: fields[0]}
		if fields[0] == "inv" {
			if len(fields) < 2 {
				return nil, fmt.Errorf("reference entry %q has no transform name", scanner.Text())
			}
			e = Entry{Name: fields[1], Invert: true}
		}
		chain = append(chain, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transform reference: %w", err)
	}
	return chain, nil
}

// ReadReference parses the reference file at path
func ReadReference(path string) (Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transform reference: %w", err)
	}
	defer f.Close()
	return ParseReference(f)
}

// FormatName substitutes the subject into a name template
func FormatName(name, subject string) string {
	name = strings.ReplaceAll(name, "{0}", subject)
	return strings.ReplaceAll(name, "{subject}", subject)
}

// Resolver locates and composes transform files.
type Resolver struct {
	// WorkDir is the primary lookup directory; empty means the process working directory
	WorkDir string

	// Root is the fallback directory tried when a file is missing from WorkDir
	Root string
}

// Resolve composes the chain for subject into one 4x4 affine.
// Matrices are accumulated in list order, T = T_prev · T_cur, and each
// inverted entry is inverted before it is folded in.
func (r Resolver) Resolve(subject string, chain Chain) (*mat.Dense, error) {
	if len(chain) == 0 {
		return nil, srcerr.NewMalformed("transform reference", 0, "reference list is empty", nil)
	}

	log := logging.Default()
	var acc *mat.Dense
	for _, e := range chain {
		path, err := r.locate(subject, e.Name)
		if err != nil {
			return nil, err
		}

		m, err := LoadMatrixFile(path)
		if err != nil {
			return nil, err
		}

		if e.Invert {
			if m, err = invert(subject, path, m); err != nil {
				return nil, err
			}
		}

		log.Debug().Str("subject", subject).Str("path", path).Bool("invert", e.Invert).Msg("transform loaded")

		if acc == nil {
			acc = m
			continue
		}
		var next mat.Dense
		next.Mul(acc, m)
		acc = &next
	}
	return acc, nil
}

// ResolveFile reads the reference list at referencePath, composes it and,
// when outPath is set, writes the result there.
func (r Resolver) ResolveFile(subject, referencePath, outPath string) (*mat.Dense, error) {
	chain, err := ReadReference(referencePath)
	if err != nil {
		return nil, err
	}
	m, err := r.Resolve(subject, chain)
	if err != nil {
		return nil, err
	}
	if outPath != "" {
		if err := Write(outPath, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (r Resolver) locate(subject, name string) (string, error) {
	formatted := FormatName(name, subject)

	primary := formatted
	if r.WorkDir != "" && !filepath.IsAbs(formatted) {
		primary = filepath.Join(r.WorkDir, formatted)
	}
	tried := []string{primary}
	if fileExists(primary) {
		return primary, nil
	}

	if r.Root != "" {
		fallback := filepath.Join(r.Root, formatted)
		tried = append(tried, fallback)
		if fileExists(fallback) {
			logging.Default().Warn().Str("subject", subject).Str("path", primary).
				Str("fallback", fallback).Msg("transform not found, using root directory")
			return fallback, nil
		}
	}

	return "", &srcerr.MissingTransformFileError{Subject: subject, Name: name, Tried: tried}
}

func invert(subject, path string, m *mat.Dense) (*mat.Dense, error) {
	// Inverse errors on exact singularity or a condition number past mat.ConditionTolerance
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, &srcerr.SingularTransformError{Subject: subject, Path: path, Err: err}
	}
	return &inv, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
