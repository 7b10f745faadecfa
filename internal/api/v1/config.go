package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// UpdateConfigRequest 更新配置请求
type UpdateConfigRequest struct {
	// 使用 map 允许部分更新
	Updates map[string]interface{} `json:"updates"`
}

// GetConfig 获取界面偏好等全局配置
// GET /api/v1/config
func (h *Handler) GetConfig(c *gin.Context) {
	allConfig, err := h.store.GetAllConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取配置失败"})
		return
	}
	c.JSON(http.StatusOK, allConfig)
}

// UpdateConfig 更新配置；值为 null 时删除该项
// PATCH /api/v1/config
func (h *Handler) UpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	for key, value := range req.Updates {
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "配置项名称不能为空"})
			return
		}
		var err error
		switch v := value.(type) {
		case nil:
			err = h.store.DeleteConfig(key)
		case float64:
			err = h.store.SetConfigFloat(key, v)
		case bool:
			err = h.store.SetConfig(key, strconv.FormatBool(v))
		case string:
			err = h.store.SetConfig(key, v)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("配置项 %s 的值类型不支持", key)})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "保存配置失败"})
			return
		}
	}

	h.GetConfig(c)
}
