package purpose

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Detection is the outcome of inspecting a repository for try-repo creates.
type Detection struct {
	Purpose    string
	SetupHints []string
}

// DetectRepoPurpose shallow-clones repoURL into memory and picks the purpose
// whose toolchain matches the repository's top-level build files. Unmatched
// repositories fall back to the general profile.
func DetectRepoPurpose(ctx context.Context, repoURL string) (*Detection, error) {
	fs := memfs.New()
	_, err := git.CloneContext(ctx, memory.NewStorage(), fs, &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", repoURL, err)
	}

	exists := func(name string) bool {
		_, err := fs.Stat(name)
		return err == nil
	}

	switch {
	case exists("go.mod"):
		return &Detection{Purpose: "go", SetupHints: []string{"go mod download"}}, nil
	case exists("Cargo.toml"):
		return &Detection{Purpose: "rust", SetupHints: []string{"cargo fetch"}}, nil
	case exists("package.json"):
		return &Detection{Purpose: "node", SetupHints: []string{"npm install"}}, nil
	case exists("pyproject.toml"):
		return &Detection{Purpose: "python", SetupHints: []string{"pip install -e ."}}, nil
	case exists("setup.py"):
		return &Detection{Purpose: "python", SetupHints: []string{"pip install -e ."}}, nil
	case exists("requirements.txt"):
		return &Detection{Purpose: "python", SetupHints: []string{"pip install -r requirements.txt"}}, nil
	case exists("Gemfile"):
		return &Detection{Purpose: "general", SetupHints: []string{"bundle install"}}, nil
	default:
		return &Detection{Purpose: "general"}, nil
	}
}
