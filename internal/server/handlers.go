package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/rekcod/rekcod/api"
	"github.com/rekcod/rekcod/internal/node"
)

// ── node ──

func (s *Server) handleNodeRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.RegisterNodeRequest](w, r)
	if !ok {
		return
	}
	if err := s.nodes.Register(r.Context(), req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonOK(w, api.Empty{})
}

func (s *Server) handleNodeList(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.NodeListRequest](w, r)
	if !ok {
		return
	}
	states, err := s.nodes.GetAllNodes(r.Context(), req.All)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]api.NodeItemResponse, 0, len(states))
	for _, st := range states {
		items = append(items, *st.Node.ToItemResponse())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	jsonOK(w, items)
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.NodeInfoRequest](w, r)
	if !ok {
		return
	}
	st, err := s.nodes.GetNode(r.Context(), req.Name)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st == nil {
		jsonErr(w, http.StatusNotFound, fmt.Sprintf("unknown node %q", req.Name))
		return
	}
	jsonOK(w, *st.Node.ToItemResponse())
}

func (s *Server) handleNodeDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.NodeInfoRequest](w, r)
	if !ok {
		return
	}
	s.nodes.DeleteNode(req.Name)
	jsonOK(w, api.Empty{})
}

// ── applications ──

func (s *Server) handleAppList(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, s.apps.List())
}

func (s *Server) handleAppInfo(w http.ResponseWriter, r *http.Request) {
	b := s.apps.Get(r.PathValue("id"))
	if b == nil {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("unknown application %q", r.PathValue("id")))
		return
	}
	jsonOK(w, b.ToResponse())
}

func (s *Server) handleTmplContent(w http.ResponseWriter, r *http.Request) {
	b := s.apps.Get(r.PathValue("name"))
	if b == nil {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("unknown application %q", r.PathValue("name")))
		return
	}
	content, err := b.ReadTemplate(r.PathValue("tmpl"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonOK(w, api.RenderTmplResponse{Content: content})
}

func (s *Server) handleAppDeploy(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.DeployAppRequest](w, r)
	if !ok {
		return
	}

	logs := make(chan string, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- s.deployer.Deploy(r.Context(), req, logs)
		close(logs)
	}()

	// Stream the deploy log line by line while the deploy runs. A deploy
	// that fails before producing any output still gets a plain envelope.
	fl, _ := w.(http.Flusher)
	streaming := false
	for line := range logs {
		if !streaming {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			streaming = true
		}
		fmt.Fprintln(w, line) //nolint:errcheck
		if fl != nil {
			fl.Flush()
		}
	}

	err := <-errc
	switch {
	case err != nil && !streaming:
		jsonErr(w, http.StatusBadRequest, err.Error())
	case err != nil:
		fmt.Fprintln(w, "deploy failed: "+err.Error()) //nolint:errcheck
	case !streaming:
		jsonOK(w, api.Empty{})
	}
}

func (s *Server) handleAppDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.DeleteAppRequest](w, r)
	if !ok {
		return
	}
	if req.Name == "" {
		jsonErr(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.deployer.Delete(r.Context(), req.Name); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonOK(w, api.Empty{})
}

func (s *Server) handleDeploymentList(w http.ResponseWriter, r *http.Request) {
	list, err := s.deployer.List(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonOK(w, list)
}

func (s *Server) handleTmplRender(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.RenderTmplRequest](w, r)
	if !ok {
		return
	}
	out, err := s.renderer.Render(r.Context(), req.TmplContext, req.TmplValues)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonOK(w, api.RenderTmplResponse{Content: out})
}

// ── environment ──

func (s *Server) handleEnvGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.env.Document(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonOK(w, api.EnvResponse{Values: doc})
}

func (s *Server) handleEnvSet(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[api.EnvRequest](w, r)
	if !ok {
		return
	}
	if err := s.env.Set(r.Context(), req.Values); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonOK(w, api.Empty{})
}

// ── image distribution ──

// PullAutoRequest asks the server to get an image onto a node, preferring
// a peer-to-peer transfer from another online node that already has it
// over a registry pull.
type PullAutoRequest struct {
	NodeName string `json:"node_name"`
	Image    string `json:"image"`
}

func (s *Server) handleImagePullAuto(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[PullAutoRequest](w, r)
	if !ok {
		return
	}
	if req.NodeName == "" || req.Image == "" {
		jsonErr(w, http.StatusBadRequest, "node_name and image are required")
		return
	}

	target, err := s.nodes.GetNode(r.Context(), req.NodeName)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if target == nil || !target.Node.Status {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("node %q is not online", req.NodeName))
		return
	}

	source, err := s.pullAuto(r.Context(), target, req.Image)
	if err != nil {
		jsonErr(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonOK(w, map[string]string{"image": req.Image, "source": source})
}

// pullAuto transfers image to the target node. Online peers are tried in
// name order; the first one holding the image exports it straight into the
// target's engine. With no peer hit the target pulls from its registry.
func (s *Server) pullAuto(ctx context.Context, target *node.State, image string) (string, error) {
	targetName := target.Node.Name

	states, err := s.nodes.GetAllNodes(ctx, false)
	if err != nil {
		return "", err
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Node.Name < states[j].Node.Name })

	for _, st := range states {
		if st.Node.Name == targetName {
			continue
		}
		images, err := st.Engine.ListImages(ctx, image)
		if err != nil || len(images) == 0 {
			continue
		}

		s.log.Info("image transfer", "image", image, "from", st.Node.Name, "to", targetName)
		tar, err := st.Engine.ExportImage(ctx, image)
		if err != nil {
			s.log.Warn("image export failed", "peer", st.Node.Name, "err", err)
			continue
		}
		progress, err := target.Engine.ImportImageStream(ctx, tar)
		tar.Close()
		if err != nil {
			s.log.Warn("image import failed", "node", targetName, "err", err)
			continue
		}
		if err := drainProgress(progress); err != nil {
			s.log.Warn("image import stream", "node", targetName, "err", err)
			continue
		}
		return st.Node.Name, nil
	}

	s.log.Info("image pull", "image", image, "node", targetName)
	progress, err := target.Engine.CreateImage(ctx, image)
	if err != nil {
		return "", err
	}
	if err := drainProgress(progress); err != nil {
		return "", err
	}
	return "registry", nil
}

// drainProgress consumes an engine JSON progress stream and surfaces an
// embedded error message, which the engine reports with a 200 status.
func drainProgress(rc io.ReadCloser) error {
	defer rc.Close()
	dec := json.NewDecoder(rc)
	for {
		var msg struct {
			Error string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if msg.Error != "" {
			return fmt.Errorf("engine: %s", msg.Error)
		}
	}
}
