package webapp

import (
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// NewGitHandler serves files from the HEAD commit of a bare repository, so
// an application can be shipped as <context>.git and upgraded by pushing.
func NewGitHandler(repoPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" || strings.HasSuffix(r.URL.Path, "/") {
			name = path.Join(name, "index.html")
		}
		serveRepoFile(w, r, repoPath, name)
	})
}

func serveRepoFile(w http.ResponseWriter, r *http.Request, repoPath, filePathInRepo string) {
	// 1. 打开裸仓库
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			http.NotFound(w, r)
			return
		}
		log.Printf("Error opening repository at %s: %v", repoPath, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// 2. HEAD -> commit -> tree
	headRef, err := repo.Head()
	if err != nil {
		log.Printf("Error getting HEAD for repo %s: %v", repoPath, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	commit, err := repo.CommitObject(headRef.Hash())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	tree, err := commit.Tree()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// 3. 查找文件
	file, err := tree.File(filePathInRepo)
	if err != nil {
		if err == object.ErrFileNotFound {
			http.NotFound(w, r)
			return
		}
		log.Printf("Error finding file '%s' in repo '%s': %v", filePathInRepo, repoPath, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	reader, err := file.Reader()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(path.Ext(file.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", file.Size))
	if r.Method == http.MethodHead {
		return
	}
	io.Copy(w, reader)
}
