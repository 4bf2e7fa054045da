package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dsmmcken/ivy-dsm/internal/coherence"
	"github.com/dsmmcken/ivy-dsm/internal/debugapi"
	"github.com/dsmmcken/ivy-dsm/internal/rpc"
)

func bindDebugEndpoint(srv *rpc.Server, engine *coherence.Engine) {
	srv.Engine().GET("/debug/directory", func(c *gin.Context) {
		views := engine.DirectorySnapshot()
		pages := make([]debugapi.PageEntry, len(views))
		for i, v := range views {
			pages[i] = debugapi.PageEntry{
				Index:   v.Index,
				Owner:   v.Owner,
				Copyset: v.Copyset,
				Access:  v.Access.String(),
			}
		}
		c.JSON(http.StatusOK, debugapi.Snapshot{
			RPCCounts: engine.RPCCounts(),
			Pages:     pages,
		})
	})
}
