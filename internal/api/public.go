package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wedding-invitations/internal/guestfeed"
	"wedding-invitations/internal/invitation"
	"wedding-invitations/internal/models"
)

func (s *Server) confirmAttendance(c *gin.Context) {
	s.attendance(c, models.GuestConfirmed)
}

func (s *Server) apologize(c *gin.Context) {
	s.attendance(c, models.GuestApologized)
}

// attendance accepts both the JSON body of the site and a plain form post.
func (s *Server) attendance(c *gin.Context, status models.GuestStatus) {
	var req models.AttendanceRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}

	var (
		g   *models.Guest
		err error
	)
	if status == models.GuestConfirmed {
		g, err = s.Invitations.Confirm(c.Request.Context(), req)
	} else {
		g, err = s.Invitations.Apologize(c.Request.Context(), req)
	}
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ApiResponse{Success: true, Message: "Response recorded", Data: g})
}

func (s *Server) getInvitation(c *gin.Context) {
	id := c.Param("id")
	if !invitation.ValidID(id) {
		failErr(c, invitation.ErrGuestNotFound)
		return
	}
	g, err := s.Invitations.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"full_name":     g.FullName,
		"invitation_id": g.InvitationID,
		"status":        g.Status,
		"link":          s.Invitations.Link(g.InvitationID),
	})
}

func (s *Server) invitationQR(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.Invitations.Get(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "256"))
	if size > 1024 {
		size = 1024
	}
	png, err := s.Invitations.QRCode(id, size)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// streamGuests pushes guest changes to the console as server-sent events
// until the client goes away.
func (s *Server) streamGuests(c *gin.Context) {
	if s.Feed == nil {
		fail(c, http.StatusServiceUnavailable, "Unavailable", errors.New("guest feed is disabled"))
		return
	}
	events, err := s.Feed.Subscribe(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"channel": guestfeed.Channel})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		evt, open := <-events
		if !open {
			return false
		}
		c.SSEvent(evt.Type, evt.Guest)
		return true
	})
}
