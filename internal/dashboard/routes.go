package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// recentSends caps how many journal entries the /sends endpoint returns.
const recentSends = 50

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/", handleStatus(opts))
	router.GET("/orders", handleOrders(opts))
	router.GET("/sends", handleSends(opts))
}

func handleStatus(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := opts.Health.Health()
		c.JSON(http.StatusOK, gin.H{
			"service": "pedidos-bot",
			"status":  h.Status,
			"uptime":  h.Uptime.Round(time.Second).String(),
			"stats": gin.H{
				"recibidos": h.MessagesReceived,
				"enviados":  h.MessagesSent,
				"comandos":  h.CommandsExecuted,
				"errores":   h.Errors,
			},
			"pedidos": gin.H{
				"total":   opts.Store.TotalCount(),
				"activos": opts.Store.ActiveCount(),
			},
		})
	}
}

func handleOrders(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		active := opts.Store.ListActive()
		summaries := make([]gin.H, 0, len(active))
		for _, o := range active {
			summaries = append(summaries, gin.H{
				"id":          o.ID,
				"descripcion": o.Description,
				"estado":      o.Status,
				"actualizado": o.UpdatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"total":     opts.Store.TotalCount(),
			"activos":   opts.Store.ActiveCount(),
			"porEstado": opts.Store.StatusHistogram(),
			"pedidos":   summaries,
		})
	}
}

func handleSends(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Journal == nil {
			c.JSON(http.StatusOK, gin.H{
				"envios":       []gin.H{},
				"porResultado": gin.H{},
			})
			return
		}

		entries, err := opts.Journal.Recent(recentSends)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		counts, err := opts.Journal.CountByResult()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"envios":       entries,
			"porResultado": counts,
		})
	}
}
