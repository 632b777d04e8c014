package api

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// OrderGroove order-intake error code for unparseable documents
const ogParseErrorCode = "020"

const (
	ogSuccessTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<order>
  <code>SUCCESS</code>
  <orderId>%s</orderId>
</order>`
	ogErrorTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<order>
  <code>ERROR</code>
  <errorCode>%s</errorCode>
  <errorMsg>%s</errorMsg>
</order>`
)

// orderGrooveOrder accepts a subscription order posted as a form-encoded
// XML document, records it idempotently, and answers with the XML envelope
// the sender expects. Only an unparseable document is rejected; an order
// with no recoverable id is still recorded under a generated event id.
func (h *Handler) orderGrooveOrder(c *gin.Context) {
	xmlBody := c.PostForm("xml")
	if strings.TrimSpace(xmlBody) == "" {
		h.orderGrooveError(c, http.StatusBadRequest, ogParseErrorCode, "Invalid XML received")
		return
	}

	doc, err := xmlToMap(strings.NewReader(xmlBody))
	if err != nil {
		h.orderGrooveError(c, http.StatusBadRequest, ogParseErrorCode, "Invalid XML received")
		return
	}

	publicID := findOrderField(doc, "orderPublicId")
	ogID := findOrderField(doc, "orderOgId")
	eventID := publicID
	if eventID == "" {
		eventID = ogID
	}
	if eventID == "" {
		eventID = fmt.Sprintf("og_order_%d", time.Now().UnixMilli())
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		h.orderGrooveError(c, http.StatusBadRequest, ogParseErrorCode, "Invalid XML received")
		return
	}

	if _, err := h.settlement.HandleOrderGrooveOrder(c.Request.Context(), eventID, payload); err != nil {
		h.orderGrooveError(c, http.StatusInternalServerError, "500", err.Error())
		return
	}

	// The acknowledgment echoes the OG order id when present, the event id
	// otherwise.
	respondID := ogID
	if respondID == "" {
		respondID = eventID
	}
	c.Data(http.StatusOK, "application/xml",
		[]byte(fmt.Sprintf(ogSuccessTemplate, xmlEscape(respondID))))
}

func (h *Handler) orderGrooveError(c *gin.Context, status int, code, message string) {
	c.Data(status, "application/xml",
		[]byte(fmt.Sprintf(ogErrorTemplate, xmlEscape(code), xmlEscape(message))))
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// findOrderField searches the parsed document, depth first, for a non-empty
// string under the given key.
func findOrderField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	for _, v := range doc {
		switch nested := v.(type) {
		case map[string]any:
			if id := findOrderField(nested, key); id != "" {
				return id
			}
		case []any:
			for _, item := range nested {
				if m, ok := item.(map[string]any); ok {
					if id := findOrderField(m, key); id != "" {
						return id
					}
				}
			}
		}
	}
	return ""
}
