// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package infolist

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/bureau-foundation/moduled/lib/image"
	"github.com/bureau-foundation/moduled/lib/image/imagetest"
	"github.com/bureau-foundation/moduled/lib/repository"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func makeDirectories(t *testing.T, directories ...string) {
	t.Helper()
	for _, directory := range directories {
		if err := os.MkdirAll(directory, 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
}

// testRoot returns a resolved temporary root and the given directories
// under it.
func testRoot(t *testing.T, directories ...string) (string, []string) {
	t.Helper()
	root, err := ResolveRoot(t.TempDir())
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	rooted := make([]string, len(directories))
	for i, directory := range directories {
		rooted[i] = filepath.Join(root, directory)
	}
	return root, rooted
}

func TestBuild(t *testing.T) {
	root, directories := testRoot(t, "system/modules", "vendor/modules")
	makeDirectories(t, directories...)

	imagetest.WritePlain(t, directories[0], "com.example.media.mpkg", imagetest.Module{
		Name:        "com.example.media",
		Version:     3,
		VersionName: "3.0",
		Key:         imagetest.Key("media"),
	})
	// Multi-installed: the first directory's image wins.
	imagetest.WritePlain(t, directories[1], "com.example.media.mpkg", imagetest.Module{
		Name:    "com.example.media",
		Version: 9,
		Key:     imagetest.Key("media"),
	})
	imagetest.WriteCompressed(t, directories[1], "com.example.libs.cmpkg", imagetest.Module{
		Name:              "com.example.libs",
		Version:           1,
		Key:               imagetest.Key("libs"),
		ProvideSharedLibs: true,
	}, image.CodecZstd)

	list, err := Build(root, directories, quiet)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []Record{
		{
			ModuleName:             "com.example.libs",
			ModulePath:             "/vendor/modules/com.example.libs.cmpkg",
			PreinstalledModulePath: "/vendor/modules/com.example.libs.cmpkg",
			VersionCode:            1,
			IsFactory:              true,
			IsActive:               true,
			ProvideSharedLibs:      true,
		},
		{
			ModuleName:             "com.example.media",
			ModulePath:             "/system/modules/com.example.media.mpkg",
			PreinstalledModulePath: "/system/modules/com.example.media.mpkg",
			VersionCode:            3,
			VersionName:            "3.0",
			IsFactory:              true,
			IsActive:               true,
		},
	}
	if !reflect.DeepEqual(list.Modules, want) {
		t.Errorf("Modules = %+v\nwant %+v", list.Modules, want)
	}
}

func TestBuildMissingDirectories(t *testing.T) {
	root, directories := testRoot(t, "system/modules")
	list, err := Build(root, directories, quiet)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(list.Modules) != 0 {
		t.Errorf("Modules = %+v, want none", list.Modules)
	}
}

func TestBuildFallsBackToFlattened(t *testing.T) {
	root, directories := testRoot(t, "system/modules")
	for _, manifest := range []image.Manifest{
		{Name: "com.example.zeta", Version: 2, VersionName: "two"},
		{Name: "com.example.alpha", Version: 7},
	} {
		packageDirectory := filepath.Join(directories[0], manifest.Name)
		makeDirectories(t, packageDirectory)
		data, err := image.EncodeManifest(manifest)
		if err != nil {
			t.Fatalf("EncodeManifest: %v", err)
		}
		if err := os.WriteFile(filepath.Join(packageDirectory, image.ManifestEntry), data, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	// Skipped: a directory without a manifest and one with garbage.
	makeDirectories(t, filepath.Join(directories[0], "com.example.empty"), filepath.Join(directories[0], "com.example.broken"))
	if err := os.WriteFile(filepath.Join(directories[0], "com.example.broken", image.ManifestEntry), []byte("not cbor"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	list, err := Build(root, directories, quiet)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var names, paths []string
	for _, record := range list.Modules {
		names = append(names, record.ModuleName)
		paths = append(paths, record.ModulePath)
		if record.LastUpdateMillis == nil || *record.LastUpdateMillis != 0 {
			t.Errorf("%s: LastUpdateMillis = %v, want 0", record.ModuleName, record.LastUpdateMillis)
		}
		if record.ProvideSharedLibs {
			t.Errorf("%s: ProvideSharedLibs set for a flattened package", record.ModuleName)
		}
	}
	if want := []string{"com.example.alpha", "com.example.zeta"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	if want := []string{"/system/modules/com.example.alpha", "/system/modules/com.example.zeta"}; !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestFromRepositoryRejectsMultipleImages(t *testing.T) {
	builtIn := t.TempDir()
	data := t.TempDir()
	module := imagetest.Module{Name: "com.example.media", Version: 1, Key: imagetest.Key("media")}
	imagetest.WritePlain(t, builtIn, "com.example.media.mpkg", module)
	module.Version = 2
	imagetest.WritePlain(t, data, "com.example.media@2.mpkg", module)

	repo := repository.New(nil, repository.WithLogger(quiet))
	if err := repo.AddPreInstalledApex([]string{builtIn}); err != nil {
		t.Fatalf("AddPreInstalledApex: %v", err)
	}
	if err := repo.AddDataApex(data); err != nil {
		t.Fatalf("AddDataApex: %v", err)
	}

	_, err := FromRepository(repo, "")
	if !errors.Is(err, ErrMultipleImages) {
		t.Errorf("FromRepository error = %v, want ErrMultipleImages", err)
	}
}

func TestWriteAndRead(t *testing.T) {
	millis := int64(1_700_000_000_000)
	list := &List{Modules: []Record{
		{
			ModuleName:             "com.example.media",
			ModulePath:             "/data/modules/active/com.example.media@4.mpkg",
			PreinstalledModulePath: "/system/modules/com.example.media.mpkg",
			VersionCode:            4,
			VersionName:            "4.1",
			IsActive:               true,
			LastUpdateMillis:       &millis,
		},
		{
			ModuleName:             "com.example.libs",
			ModulePath:             "/system/modules/com.example.libs.mpkg",
			PreinstalledModulePath: "/system/modules/com.example.libs.mpkg",
			VersionCode:            1,
			IsFactory:              true,
			IsActive:               true,
			ProvideSharedLibs:      true,
		},
	}}

	for _, format := range []Format{FormatCBOR, FormatYAML} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "modules."+format.String())
			if err := os.WriteFile(path, []byte("stale"), 0600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if err := Write(path, list, format); err != nil {
				t.Fatalf("Write: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat: %v", err)
			}
			if info.Mode().Perm() != 0644 {
				t.Errorf("mode = %v, want 0644", info.Mode().Perm())
			}

			got, err := Read(path, format)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !reflect.DeepEqual(got, list) {
				t.Errorf("Read = %+v\nwant %+v", got, list)
			}
		})
	}
}

func TestYAMLFieldNames(t *testing.T) {
	data, err := Marshal(&List{Modules: []Record{{ModuleName: "com.example.media", VersionCode: 2}}}, FormatYAML)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, fragment := range []string{"module_name: com.example.media", "version_code: 2", "is_factory: false"} {
		if !strings.Contains(string(data), fragment) {
			t.Errorf("YAML output missing %q:\n%s", fragment, data)
		}
	}
	if strings.Contains(string(data), "last_update_millis") {
		t.Errorf("YAML output has last_update_millis for a record without one:\n%s", data)
	}
}

func TestReadRejectsWrongFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("modules: [unterminated"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Read(path, FormatCBOR); err == nil {
		t.Error("Read decoded YAML text as CBOR")
	}
}

func TestLookup(t *testing.T) {
	list := &List{Modules: []Record{{ModuleName: "a", VersionCode: 1}, {ModuleName: "b", VersionCode: 2}}}
	record, ok := list.Lookup("b")
	if !ok || record.VersionCode != 2 {
		t.Errorf("Lookup(b) = %+v, %v", record, ok)
	}
	if _, ok := list.Lookup("c"); ok {
		t.Error("Lookup(c) found a record")
	}
}

func TestParseFormat(t *testing.T) {
	for _, format := range []Format{FormatCBOR, FormatYAML} {
		parsed, err := ParseFormat(format.String())
		if err != nil || parsed != format {
			t.Errorf("ParseFormat(%q) = %v, %v", format.String(), parsed, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}
}

func TestRelativeToRoot(t *testing.T) {
	tests := []struct {
		path, root, want string
	}{
		{"/staging/system/modules/a.mpkg", "/staging", "/system/modules/a.mpkg"},
		{"/staging/system/modules/a.mpkg", "/staging/", "/system/modules/a.mpkg"},
		{"/system/modules/a.mpkg", "", "/system/modules/a.mpkg"},
		{"/system/modules/a.mpkg", "/", "/system/modules/a.mpkg"},
		{"/out/rootfs/system/a.mpkg", "/out/root", "/out/rootfs/system/a.mpkg"},
		{"/out/root/system/a.mpkg", "/out/root", "/system/a.mpkg"},
	}
	for _, test := range tests {
		if got := relativeToRoot(test.path, test.root); got != test.want {
			t.Errorf("relativeToRoot(%q, %q) = %q, want %q", test.path, test.root, got, test.want)
		}
	}
}
