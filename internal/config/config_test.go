package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate, got %v", err)
	}
}

func TestValidateRejectsLowGreaterThanOrEqualHigh(t *testing.T) {
	cfg := Default()
	cfg.FreeLowKiB = 1000
	cfg.FreeHighKiB = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when free_low_kib == free_high_kib")
	}
}

func TestValidateRejectsNegativeHysteresis(t *testing.T) {
	cfg := Default()
	cfg.FreeLowKiB = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative free_low_kib")
	}
}

func TestValidateRejectsDuplicateFolderPaths(t *testing.T) {
	cfg := Default()
	cfg.Folders = []FolderAttr{
		{RelativePath: "video_front/", SortKey: SortByName},
		{RelativePath: "video_front/", SortKey: SortByName},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate folder relative_path")
	}
}

func TestValidateRejectsEmptyFolderPath(t *testing.T) {
	cfg := Default()
	cfg.Folders = []FolderAttr{{RelativePath: "", SortKey: SortByName}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty relative_path")
	}
}

func TestValidateRejectsUnknownSortKey(t *testing.T) {
	cfg := Default()
	cfg.Folders = []FolderAttr{{RelativePath: "a/", SortKey: "bogus"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown sort key")
	}
}

func TestValidateRejectsNegativeLimitValue(t *testing.T) {
	cfg := Default()
	cfg.Folders = []FolderAttr{{RelativePath: "a/", SortKey: SortByName, LimitValue: -5}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative limit_value")
	}
}

func TestValidateRejectsEmptyMountPath(t *testing.T) {
	cfg := Default()
	cfg.MountPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty mount_path")
	}
}
