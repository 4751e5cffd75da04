package pluginmodule

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ArchiveExt is the packaging extension for distributable plugin archives.
const ArchiveExt = ".fplug"

// PackageReader discovers packages in the plugin directory and installs
// uploaded archives.
type PackageReader struct {
	dir    string
	parser *DescriptorParser
	logger hclog.Logger
}

// NewPackageReader creates a reader rooted at dir.
func NewPackageReader(dir string, logger hclog.Logger) *PackageReader {
	return &PackageReader{
		dir:    dir,
		parser: NewDescriptorParser(),
		logger: logger.Named("package-reader"),
	}
}

// Dir returns the plugin directory the reader scans.
func (r *PackageReader) Dir() string { return r.dir }

// Discover scans the plugin directory for packages: unpacked directories
// containing a plugin.cue, and .fplug archives (unpacked on first sight).
// Packages with an unreadable or invalid descriptor are skipped with a
// warning; one bad package never blocks the others.
func (r *PackageReader) Discover() ([]PackageMetadata, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("reading plugin directory %s: %w", r.dir, err)
	}

	var found []PackageMetadata
	seen := make(map[string]bool)
	add := func(meta *PackageMetadata) {
		// An unpacked directory and its source archive describe the same
		// package; the first wins.
		if seen[meta.Descriptor.ID] {
			return
		}
		seen[meta.Descriptor.ID] = true
		found = append(found, *meta)
	}

	for _, entry := range entries {
		full := filepath.Join(r.dir, entry.Name())
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			meta, err := r.ReadPackage(full)
			if err != nil {
				r.logger.Warn("skipping plugin directory", "dir", entry.Name(), "error", err)
				continue
			}
			add(meta)
		}
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ArchiveExt) {
			continue
		}
		meta, err := r.ensureUnpacked(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			r.logger.Warn("skipping plugin archive", "archive", entry.Name(), "error", err)
			continue
		}
		add(meta)
	}
	return found, nil
}

// ReadPackage parses the descriptor and resource listing of one unpacked
// package directory.
func (r *PackageReader) ReadPackage(dir string) (*PackageMetadata, error) {
	desc, err := r.parser.ParseDir(dir)
	if err != nil {
		return nil, err
	}
	resources, err := listResources(dir)
	if err != nil {
		return nil, lifecycleErr(KindMalformedPackage, desc.ID, err)
	}
	return &PackageMetadata{
		Descriptor: *desc,
		Path:       dir,
		Resources:  resources,
	}, nil
}

// Install unpacks an uploaded archive into the plugin directory. The
// archive is extracted to a staging directory first and renamed into place
// only after its descriptor validates, so a failed install leaves nothing
// behind. An existing package with the same ID is replaced.
func (r *PackageReader) Install(archive io.ReaderAt, size int64) (*PackageMetadata, error) {
	staging, err := os.MkdirTemp(r.dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractArchive(archive, size, staging); err != nil {
		return nil, lifecycleErr(KindMalformedPackage, "", err)
	}

	desc, err := r.parser.ParseDir(staging)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(r.dir, desc.ID)
	if err := os.RemoveAll(target); err != nil {
		return nil, fmt.Errorf("replacing existing package %s: %w", desc.ID, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return nil, fmt.Errorf("installing package %s: %w", desc.ID, err)
	}

	meta, err := r.ReadPackage(target)
	if err != nil {
		return nil, err
	}
	meta.Archive = true
	r.logger.Info("plugin package installed", "plugin", desc.ID, "version", desc.Version)
	return meta, nil
}

// Remove deletes an unpacked package directory.
func (r *PackageReader) Remove(pluginID string) error {
	return os.RemoveAll(filepath.Join(r.dir, pluginID))
}

// ensureUnpacked extracts an archive lying in the plugin directory into a
// sibling directory named after its plugin ID, unless already present.
func (r *PackageReader) ensureUnpacked(archivePath string) (*PackageMetadata, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Probe the descriptor inside the archive to learn the plugin ID.
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, lifecycleErr(KindMalformedPackage, "", fmt.Errorf("opening archive: %w", err))
	}
	desc, err := r.descriptorFromArchive(zr)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(r.dir, desc.ID)
	if _, err := os.Stat(filepath.Join(target, DescriptorFile)); err == nil {
		meta, err := r.ReadPackage(target)
		if err != nil {
			return nil, err
		}
		meta.Archive = true
		return meta, nil
	}

	meta, err := r.Install(f, info.Size())
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (r *PackageReader) descriptorFromArchive(zr *zip.Reader) (*Descriptor, error) {
	for _, f := range zr.File {
		if f.Name == DescriptorFile {
			rc, err := f.Open()
			if err != nil {
				return nil, lifecycleErr(KindMalformedPackage, "", err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, lifecycleErr(KindMalformedPackage, "", err)
			}
			return r.parser.Parse(data)
		}
	}
	return nil, lifecycleErr(KindMalformedPackage, "", fmt.Errorf("archive has no %s at its root", DescriptorFile))
}

// extractArchive unpacks a zip into dest, rejecting entries that would
// escape it.
func extractArchive(src io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	for _, f := range zr.File {
		path := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes the package root", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

// listResources walks a package directory and returns the relative paths of
// every regular file, descriptor included.
func listResources(dir string) ([]string, error) {
	var resources []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		resources = append(resources, filepath.ToSlash(rel))
		return nil
	})
	return resources, err
}
