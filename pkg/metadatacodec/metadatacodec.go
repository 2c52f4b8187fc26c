// Package metadatacodec decodes the YAML package descriptor format used by
// both a package archive's embedded .AURORA_META file and a repository's
// index file (a sequence of the same descriptor).
package metadatacodec

import (
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aurora-pkg/aurora/pkg/pkgdata"
	"github.com/aurora-pkg/aurora/pkg/telemetry"
)

// Kind classifies a metadata codec failure.
type Kind string

const (
	KindFileNotFound         Kind = "file_not_found"
	KindInvalidFormat        Kind = "invalid_format"
	KindMissingRequiredField Kind = "missing_required_field"
)

// Error is the classified error type returned by this package.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// descriptorDoc mirrors the on-disk YAML shape of a package descriptor.
// validator tags enforce the required fields after decoding; they are the
// only presence check (yaml.v3 happily zero-values a missing scalar instead
// of erroring).
type descriptorDoc struct {
	Name          string   `yaml:"name" validate:"required"`
	Version       string   `yaml:"version" validate:"required"`
	Arch          string   `yaml:"arch" validate:"required"`
	RepoName      string   `yaml:"repo_name"`
	Description   string   `yaml:"description"`
	InstalledSize int64    `yaml:"installed_size"`
	Deps          []string `yaml:"deps"`
	MakeDepends   []string `yaml:"makedepends"`
	Conflicts     []string `yaml:"conflicts"`
	Replaces      []string `yaml:"replaces"`
	Provides      []string `yaml:"provides"`
	Files         []string `yaml:"files"`
	PreInstall    string   `yaml:"pre_install"`
	PostInstall   string   `yaml:"post_install"`
	PreRemove     string   `yaml:"pre_remove"`
	PostRemove    string   `yaml:"post_remove"`
	Checksum      string   `yaml:"checksum" validate:"required"`
}

var structValidator = validator.New()

// Parse decodes a single package descriptor.
func Parse(r io.Reader) (pkgdata.Package, error) {
	var doc descriptorDoc
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return pkgdata.Package{}, newErr(KindInvalidFormat, "decoding descriptor", err)
	}

	if err := validateRequired(doc); err != nil {
		return pkgdata.Package{}, err
	}

	return toPackage(doc), nil
}

// ParseRepositoryIndex decodes a sequence of package descriptors. A
// malformed entry is logged at Warn level via logger and skipped rather
// than failing the whole parse, so that a single bad record in a
// repository's index does not poison every package that repository serves.
func ParseRepositoryIndex(r io.Reader, logger *telemetry.Logger) ([]pkgdata.Package, error) {
	if logger == nil {
		logger = telemetry.Nop()
	}

	var rawNodes []yaml.Node
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&rawNodes); err != nil {
		return nil, newErr(KindInvalidFormat, "decoding repository index", err)
	}

	var pkgs []pkgdata.Package
	for i, node := range rawNodes {
		var doc descriptorDoc
		if err := node.Decode(&doc); err != nil {
			logger.Warnf("skipping malformed repository index entry %d: %v", i, err)
			continue
		}
		if err := validateRequired(doc); err != nil {
			logger.Warnf("skipping repository index entry %d: %v", i, err)
			continue
		}
		pkgs = append(pkgs, toPackage(doc))
	}

	return pkgs, nil
}

func validateRequired(doc descriptorDoc) error {
	if err := structValidator.Struct(doc); err != nil {
		return newErr(KindMissingRequiredField, "descriptor is missing a required field", err)
	}
	return nil
}

func toPackage(doc descriptorDoc) pkgdata.Package {
	return pkgdata.Package{
		Name:          doc.Name,
		Version:       doc.Version,
		Arch:          doc.Arch,
		RepoName:      doc.RepoName,
		Description:   doc.Description,
		InstalledSize: doc.InstalledSize,
		Deps:          doc.Deps,
		MakeDepends:   doc.MakeDepends,
		Conflicts:     doc.Conflicts,
		Replaces:      doc.Replaces,
		Provides:      doc.Provides,
		Files:         doc.Files,
		PreInstall:    doc.PreInstall,
		PostInstall:   doc.PostInstall,
		PreRemove:     doc.PreRemove,
		PostRemove:    doc.PostRemove,
		Checksum:      doc.Checksum,
	}
}
