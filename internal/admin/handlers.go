package admin

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"extendfs/internal/extend"
)

// maxValueSize bounds PUT bodies; a value is one integer.
const maxValueSize = 4096

// NodeView is the JSON form of a configuration node.
type NodeView struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
	Mode  string `json:"mode"`
	Width int    `json:"width"`
}

func viewOf(n *extend.Node) NodeView {
	return NodeView{
		Name:  n.Name(),
		Value: n.Value(),
		Mode:  fmt.Sprintf("%#o", uint32(n.Mode().Perm())),
		Width: n.Width(),
	}
}

func health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, HealthyResponse(map[string]string{"service": "extendfs"}))
}

type nodeHandler struct {
	nodes NodeSource
}

func (h *nodeHandler) list(w http.ResponseWriter, _ *http.Request) {
	nodes := h.nodes.Nodes()
	views := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, viewOf(n))
	}
	JSON(w, http.StatusOK, OKResponse(views))
}

func (h *nodeHandler) lookup(w http.ResponseWriter, r *http.Request) (*extend.Node, bool) {
	name := chi.URLParam(r, "name")
	n, ok := h.nodes.Node(name)
	if !ok {
		JSON(w, http.StatusNotFound, ErrorResponse(fmt.Sprintf("no configuration node %q", name)))
	}
	return n, ok
}

func (h *nodeHandler) get(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, OKResponse(viewOf(n)))
}

func (h *nodeHandler) put(w http.ResponseWriter, r *http.Request) {
	n, ok := h.lookup(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize+1))
	if err != nil {
		JSON(w, http.StatusBadRequest, ErrorResponse(err.Error()))
		return
	}
	if len(body) > maxValueSize {
		JSON(w, http.StatusRequestEntityTooLarge, ErrorResponse("value too large"))
		return
	}

	if err := n.Store(string(body)); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, extend.ErrInvalidValue) {
			status = http.StatusBadRequest
		}
		JSON(w, status, ErrorResponse(err.Error()))
		return
	}

	logger.Info("Set %s/%s to %d", extend.Namespace, n.Name(), n.Value())
	JSON(w, http.StatusOK, OKResponse(viewOf(n)))
}
