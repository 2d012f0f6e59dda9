// Package dashboard serves the admin live activity page and its login page.
// Both are static; the activity feed itself arrives over /ws/admin/activity.
package dashboard

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed static
var staticFS embed.FS

const (
	LoginPath    = "/admin/login"
	ActivityPath = "/admin/activity"
)

func staticFiles() http.FileSystem {
	sub, _ := fs.Sub(staticFS, "static")
	return http.FS(sub)
}

// Mount registers the pages and their scripts under /static.
func Mount(r gin.IRoutes) {
	r.GET(LoginPath, page("static/auth/login.html"))
	r.GET(ActivityPath, page("static/admin/activity.html"))
	r.StaticFS("/static", staticFiles())
}

func page(name string) gin.HandlerFunc {
	body, err := staticFS.ReadFile(name)
	if err != nil {
		// The file list is fixed at build time.
		panic(err)
	}
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/html; charset=utf-8", body)
	}
}
