package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/catalog"
)

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.cfg.AdminPassword == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access not configured"})
		return
	}
	if !checkPassword(s.cfg.AdminPassword, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": s.sessions.create()})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.sessions.revoke(bearerToken(c))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// adminFail maps catalog errors onto HTTP statuses.
func adminFail(c *gin.Context, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Units

type unitRequest struct {
	UnitID      string `json:"unit_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	ModuleID    uint   `json:"module_id" binding:"required"`
	Semester    *int   `json:"semester"`
	SWS         *int   `json:"sws"`
	Workload    string `json:"workload"`
	Lehrsprache string `json:"lehrsprache"`
	Lernziele   string `json:"lernziele"`
	Inhalte     string `json:"inhalte"`
	PersonIDs   []uint `json:"person_ids"`
}

func (s *Server) handleListUnits(c *gin.Context) {
	units, err := s.svc.Catalog().ListUnits(c.Request.Context())
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, units)
}

func (s *Server) handleGetUnit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	unit, err := s.svc.Catalog().GetUnit(c.Request.Context(), id)
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

func (s *Server) handleCreateUnit(c *gin.Context) {
	var req unitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	unit := catalog.Unit{
		UnitID:      req.UnitID,
		Title:       req.Title,
		ModuleID:    req.ModuleID,
		Semester:    req.Semester,
		SWS:         req.SWS,
		Workload:    req.Workload,
		Lehrsprache: req.Lehrsprache,
		Lernziele:   req.Lernziele,
		Inhalte:     req.Inhalte,
	}
	if err := s.svc.Catalog().CreateUnit(c.Request.Context(), &unit, req.PersonIDs); err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

type unitUpdateRequest struct {
	Title       *string `json:"title"`
	Semester    *int    `json:"semester"`
	SWS         *int    `json:"sws"`
	Workload    *string `json:"workload"`
	Lehrsprache *string `json:"lehrsprache"`
	Lernziele   *string `json:"lernziele"`
	Inhalte     *string `json:"inhalte"`
	PersonIDs   []uint  `json:"person_ids"`
}

func (r *unitUpdateRequest) updates() map[string]interface{} {
	u := map[string]interface{}{}
	if r.Title != nil {
		u["title"] = *r.Title
	}
	if r.Semester != nil {
		u["semester"] = *r.Semester
	}
	if r.SWS != nil {
		u["sws"] = *r.SWS
	}
	if r.Workload != nil {
		u["workload"] = *r.Workload
	}
	if r.Lehrsprache != nil {
		u["lehrsprache"] = *r.Lehrsprache
	}
	if r.Lernziele != nil {
		u["lernziele"] = *r.Lernziele
	}
	if r.Inhalte != nil {
		u["inhalte"] = *r.Inhalte
	}
	return u
}

func (s *Server) handleUpdateUnit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req unitUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	unit, err := s.svc.Catalog().UpdateUnit(c.Request.Context(), id, req.updates(), req.PersonIDs)
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

func (s *Server) handleDeleteUnit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.Catalog().DeleteUnit(c.Request.Context(), id); err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Modules

type moduleRequest struct {
	ModuleID          string `json:"module_id" binding:"required"`
	Title             string `json:"title" binding:"required"`
	Credits           *int   `json:"credits"`
	SWS               *int   `json:"sws"`
	Semester          *int   `json:"semester"`
	Lernziele         string `json:"lernziele"`
	Pruefungsleistung string `json:"pruefungsleistung"`
}

func (s *Server) handleListModules(c *gin.Context) {
	modules, err := s.svc.Catalog().ListModules(c.Request.Context())
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, modules)
}

func (s *Server) handleGetModule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	module, err := s.svc.Catalog().GetModule(c.Request.Context(), id)
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *Server) handleCreateModule(c *gin.Context) {
	var req moduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	module := catalog.Module{
		ModuleID:          req.ModuleID,
		Title:             req.Title,
		Credits:           req.Credits,
		SWS:               req.SWS,
		Semester:          req.Semester,
		Lernziele:         req.Lernziele,
		Pruefungsleistung: req.Pruefungsleistung,
	}
	if err := s.svc.Catalog().CreateModule(c.Request.Context(), &module); err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusCreated, module)
}

type moduleUpdateRequest struct {
	Title             *string `json:"title"`
	Credits           *int    `json:"credits"`
	SWS               *int    `json:"sws"`
	Semester          *int    `json:"semester"`
	Lernziele         *string `json:"lernziele"`
	Pruefungsleistung *string `json:"pruefungsleistung"`
}

func (r *moduleUpdateRequest) updates() map[string]interface{} {
	u := map[string]interface{}{}
	if r.Title != nil {
		u["title"] = *r.Title
	}
	if r.Credits != nil {
		u["credits"] = *r.Credits
	}
	if r.SWS != nil {
		u["sws"] = *r.SWS
	}
	if r.Semester != nil {
		u["semester"] = *r.Semester
	}
	if r.Lernziele != nil {
		u["lernziele"] = *r.Lernziele
	}
	if r.Pruefungsleistung != nil {
		u["pruefungsleistung"] = *r.Pruefungsleistung
	}
	return u
}

func (s *Server) handleUpdateModule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req moduleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	module, err := s.svc.Catalog().UpdateModule(c.Request.Context(), id, req.updates())
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *Server) handleDeleteModule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.Catalog().DeleteModule(c.Request.Context(), id); err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Persons

type personRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleListPersons(c *gin.Context) {
	persons, err := s.svc.Catalog().ListPersons(c.Request.Context())
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, persons)
}

func (s *Server) handleCreatePerson(c *gin.Context) {
	var req personRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	person := catalog.Person{Name: req.Name}
	if err := s.svc.Catalog().CreatePerson(c.Request.Context(), &person); err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusCreated, person)
}

func (s *Server) handleUpdatePerson(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req personRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	person, err := s.svc.Catalog().UpdatePerson(c.Request.Context(), id, map[string]interface{}{"name": req.Name})
	if err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, person)
}

func (s *Server) handleDeletePerson(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.Catalog().DeletePerson(c.Request.Context(), id); err != nil {
		adminFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
